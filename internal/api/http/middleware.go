package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/immxrtalbeast/jamroom/internal/metrics"
	"github.com/immxrtalbeast/jamroom/internal/service"
)

const (
	UserIDHeader = "X-User-ID"
	userKey      = "user"
)

// Metrics records request count and latency per route template.
func Metrics() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(ctx.Request.Method, path, strconv.Itoa(ctx.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(ctx.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// RequireUser resolves the caller from the X-User-ID header, or the user_id
// query parameter for browser websocket clients that cannot set headers.
func RequireUser(users service.UserInteractor) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		raw := ctx.GetHeader(UserIDHeader)
		if raw == "" {
			raw = ctx.Query("user_id")
		}
		if raw == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user id is required"})
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user id"})
			return
		}

		user, err := users.GetUser(ctx.Request.Context(), id)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
				return
			}
			ctx.AbortWithStatusJSON(statusFor(err), errorBody(err))
			return
		}

		ctx.Set(userKey, user)
		ctx.Next()
	}
}

func currentUser(ctx *gin.Context) *domain.User {
	v, ok := ctx.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := v.(*domain.User)
	return user
}
