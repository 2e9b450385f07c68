// Package validation holds the pure input checks shared by every entry
// point. Nothing here touches state or the network.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/immxrtalbeast/jamroom/internal/domain"
)

const (
	MaxRoomNameLength    = 50
	MaxDescriptionLength = 200
	MaxDisplayNameLength = 36
	MaxChatLength        = 1000
	MaxInstrumentLength  = 32
	MaxCapacity          = 50
	MaxIdleMinutes       = 24 * 60
	repeatRunLimit       = 10
)

var (
	linkPattern     = regexp.MustCompile(`(?i)(https?://|www\.)\S+`)
	joinCodePattern = regexp.MustCompile(`^[0-9]{6}$`)

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// Result lists why an input was rejected. An empty result means it passed.
type Result struct {
	Reasons []string
}

func (r Result) OK() bool {
	return len(r.Reasons) == 0
}

func (r *Result) fail(format string, args ...any) {
	r.Reasons = append(r.Reasons, fmt.Sprintf(format, args...))
}

func (r *Result) merge(other Result) {
	r.Reasons = append(r.Reasons, other.Reasons...)
}

func RoomName(name string) Result {
	var res Result
	name = strings.TrimSpace(name)
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		res.fail("room name is required")
	case n > MaxRoomNameLength:
		res.fail("room name must be at most %d characters", MaxRoomNameLength)
	}
	return res
}

func Description(desc string) Result {
	var res Result
	if utf8.RuneCountInString(strings.TrimSpace(desc)) > MaxDescriptionLength {
		res.fail("description must be at most %d characters", MaxDescriptionLength)
	}
	return res
}

func DisplayName(name string) Result {
	var res Result
	name = strings.TrimSpace(name)
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		res.fail("display name is required")
	case n > MaxDisplayNameLength:
		res.fail("display name must be at most %d characters", MaxDisplayNameLength)
	}
	return res
}

func Instrument(name string) Result {
	var res Result
	name = strings.TrimSpace(name)
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		res.fail("instrument is required")
	case n > MaxInstrumentLength:
		res.fail("instrument must be at most %d characters", MaxInstrumentLength)
	}
	return res
}

// ChatText screens a chat or private message body.
func ChatText(text string) Result {
	var res Result
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n == 0 {
		res.fail("message is empty")
		return res
	}
	if n > MaxChatLength {
		res.fail("message must be at most %d characters", MaxChatLength)
	}
	if r, ok := repeatedRun(text, repeatRunLimit); ok {
		res.fail("message repeats %q too many times in a row", r)
	}
	if linkPattern.MatchString(text) {
		res.fail("links are not allowed in chat")
	}
	return res
}

func JoinCode(code string) Result {
	var res Result
	if !joinCodePattern.MatchString(code) {
		res.fail("join code must be exactly 6 digits")
	}
	return res
}

func Capacity(n int) Result {
	var res Result
	if n < 1 || n > MaxCapacity {
		res.fail("capacity must be between 1 and %d", MaxCapacity)
	}
	return res
}

func IdleTimeout(minutes int) Result {
	var res Result
	if minutes < 1 || minutes > MaxIdleMinutes {
		res.fail("inactivity timeout must be between 1 and %d minutes", MaxIdleMinutes)
	}
	return res
}

// RoomSpec checks every creator-supplied field. Zero capacity and timeout
// mean "use the default" and pass.
func RoomSpec(spec domain.RoomSpec) Result {
	var res Result
	res.merge(RoomName(spec.Name))
	res.merge(Description(spec.Description))
	switch spec.Visibility {
	case "", domain.VisibilityPublic, domain.VisibilityPrivate:
	default:
		res.fail("unknown visibility %q", spec.Visibility)
	}
	if spec.Capacity != 0 {
		res.merge(Capacity(spec.Capacity))
	}
	if spec.IdleTimeoutMinutes != 0 {
		res.merge(IdleTimeout(spec.IdleTimeoutMinutes))
	}
	return res
}

// NoteEvent checks the struct tags of a note payload.
func NoteEvent(ev *domain.NoteEvent) Result {
	var res Result
	if ev == nil {
		res.fail("note event is required")
		return res
	}
	if err := validate.Struct(ev); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				res.fail("%s failed %s", strings.ToLower(fe.Field()), fe.Tag())
			}
		} else {
			res.fail("%s", err.Error())
		}
	}
	return res
}

func repeatedRun(s string, limit int) (rune, bool) {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= limit {
			return r, true
		}
	}
	return 0, false
}
