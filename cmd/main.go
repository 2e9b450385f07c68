package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/immxrtalbeast/jamroom/internal/api/http"
	"github.com/immxrtalbeast/jamroom/internal/config"
	"github.com/immxrtalbeast/jamroom/internal/ratelimit"
	"github.com/immxrtalbeast/jamroom/internal/repository"
	"github.com/immxrtalbeast/jamroom/internal/repository/model"
	"github.com/immxrtalbeast/jamroom/internal/service"
	"github.com/immxrtalbeast/jamroom/lib/logger/sl"
	"github.com/immxrtalbeast/jamroom/lib/logger/slogpretty"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, users, closeStore, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		log.Error("failed to open storage", slog.String("driver", cfg.Storage.Driver), sl.Err(err))
		os.Exit(1)
	}
	defer closeStore()

	limiter := ratelimit.New(ratelimit.WithIdleTTL(cfg.RateLimit.IdleTTL))

	roomService := service.NewRoomService(store, users, limiter, log, service.Options{
		DefaultCapacity:  cfg.Room.DefaultCapacity,
		WatchdogInterval: cfg.Room.WatchdogInterval,
		NoteStaleness:    cfg.Room.NoteStaleness,
		NoteRetention:    cfg.Room.NoteRetention,
		ChatBudget:       ratelimit.Budget{Max: cfg.RateLimit.ChatMax, Window: cfg.RateLimit.ChatWindow},
		NoteBudget:       ratelimit.Budget{Max: cfg.RateLimit.NoteMax, Window: cfg.RateLimit.NoteWindow},
	})
	userService := service.NewUserService(users, log)

	roomController := httpapi.NewRoomController(roomService, log, httpapi.OriginChecker(cfg.HTTP.AllowedOrigins))
	userController := httpapi.NewUserController(userService, log)

	router := httpapi.SetupRouter(cfg.HTTP.AllowedOrigins, roomController, userController)

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting application",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("storage", cfg.Storage.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return limiter.Run(gctx, cfg.RateLimit.SweepInterval)
	})
	g.Go(func() error {
		return roomService.RunCompactor(gctx, cfg.Room.CompactInterval)
	})

	if err := g.Wait(); err != nil {
		log.Error("application stopped", sl.Err(err))
		os.Exit(1)
	}
	log.Info("application stopped")
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (repository.Store, repository.UserRepository, func(), error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return repository.NewInMemoryStore(), repository.NewInMemoryUserRepository(), func() {}, nil

	case config.StorageRedis:
		client, err := repository.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, nil, err
		}
		return repository.NewRedisStore(client), repository.NewRedisUserRepository(client), func() { _ = client.Close() }, nil

	case config.StoragePostgres:
		db, err := connectDatabase(cfg.Database)
		if err != nil {
			return nil, nil, nil, err
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return repository.NewPostgresStore(db), repository.NewPostgresUserRepository(db), closeDB, nil
	}

	return nil, nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

func connectDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), repository.GormConfig())
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(model.All()...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
