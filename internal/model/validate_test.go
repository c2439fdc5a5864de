package model

import (
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"threadlens/internal/errors"
)

func validNote() Note {
	return Note{
		ID:        "9abc",
		CreatedAt: time.Date(2025, 7, 8, 12, 0, 0, 0, time.UTC),
		Author: User{
			ID:        "u1",
			Username:  "alice",
			AvatarURL: "https://misskey.example/avatar/u1.webp",
		},
		Attachments: []string{"https://misskey.example/files/thumb.webp"},
	}
}

func TestNoteValidate_OK(t *testing.T) {
	require.NoError(t, validNote().Validate())
}

func TestNoteValidate_AvatarOptional(t *testing.T) {
	n := validNote()
	n.Author.AvatarURL = ""
	require.NoError(t, n.Validate())
}

func TestNoteValidate_MissingFields(t *testing.T) {
	n := validNote()
	n.ID = ""
	n.CreatedAt = time.Time{}
	n.Author.Username = ""

	err := n.Validate()
	require.Error(t, err)

	var ve *errors.ValidationError
	require.True(t, stderrors.As(err, &ve))
	joined := strings.Join(ve.Fields, " ")
	require.Contains(t, joined, "Note.ID:required")
	require.Contains(t, joined, "Note.CreatedAt:required")
	require.Contains(t, joined, "Note.Author.Username:required")
	require.True(t, errors.Is(err, errors.ErrValidation))
}

func TestNoteValidate_BadAttachmentURL(t *testing.T) {
	n := validNote()
	n.Attachments = []string{"not a url"}
	err := n.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "url")
}

func TestValidateAll_StopsAtFirst(t *testing.T) {
	bad := validNote()
	bad.ID = "bad"
	bad.Author.ID = ""
	err := ValidateAll([]Note{validNote(), bad})

	var ve *errors.ValidationError
	require.True(t, stderrors.As(err, &ve))
	require.Equal(t, "bad", ve.NoteID)
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("")
	require.NoError(t, err)
	require.Equal(t, ScopeGlobal, s)

	s, err = ParseScope("local")
	require.NoError(t, err)
	require.Equal(t, ScopeLocal, s)

	_, err = ParseScope("home")
	require.Error(t, err)
}

func TestNoteReplyHelpers(t *testing.T) {
	n := validNote()
	require.True(t, n.IsRoot())
	parent := "p1"
	n.ReplyID = &parent
	require.False(t, n.IsRoot())
	require.True(t, n.RepliesTo("p1"))
	require.False(t, n.RepliesTo("p2"))
}
