package repository

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/immxrtalbeast/jamroom/internal/repository/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

func TestGormConfig_TranslatesDriverErrors(t *testing.T) {
	assert.True(t, GormConfig().TranslateError)
}

func TestTranslateErr(t *testing.T) {
	wrapped := func(err error) error { return fmt.Errorf("insert users: %w", err) }
	boom := errors.New("connection reset")

	cases := []struct {
		name      string
		err       error
		duplicate error
		want      error
	}{
		{name: "nil", err: nil, duplicate: ErrUserEmailExists, want: nil},
		{name: "duplicate email", err: wrapped(gorm.ErrDuplicatedKey), duplicate: ErrUserEmailExists, want: ErrUserEmailExists},
		{name: "duplicate room", err: gorm.ErrDuplicatedKey, duplicate: ErrRoomExists, want: ErrRoomExists},
		{name: "duplicate without meaning", err: gorm.ErrDuplicatedKey, duplicate: nil, want: gorm.ErrDuplicatedKey},
		{name: "room deleted under append", err: wrapped(gorm.ErrForeignKeyViolated), duplicate: nil, want: ErrRoomNotFound},
		{name: "other", err: boom, duplicate: ErrUserEmailExists, want: boom},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := translateErr(tc.err, tc.duplicate)
			if tc.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tc.want)
		})
	}
}

func TestRoomModel_SubRecordsCascade(t *testing.T) {
	s, err := schema.Parse(&model.Room{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	for _, field := range []string{"Participants", "PendingRequests", "Messages", "PrivateMessages", "Notes"} {
		rel, ok := s.Relationships.Relations[field]
		require.True(t, ok, field)

		c := rel.ParseConstraint()
		require.NotNil(t, c, field)
		assert.Equal(t, "CASCADE", c.OnDelete, field)
		require.Len(t, c.ForeignKeys, 1, field)
		assert.Equal(t, "room_id", c.ForeignKeys[0].DBName, field)
	}
}
