package timeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"threadlens/internal/errors"
	"threadlens/internal/misskey"
	"threadlens/internal/misskey/misskeytest"
	"threadlens/internal/model"
)

var note = misskeytest.Note

func ids(w []model.Note) []string {
	out := make([]string, 0, len(w))
	for _, n := range w {
		out = append(out, n.ID)
	}
	return out
}

func TestMergeScenario(t *testing.T) {
	older := []model.Note{note("X", 5, "")}
	anchor := note("Y", 10, "")
	newer := []model.Note{note("Y", 10, ""), note("Z", 15, "")}

	got := Merge(older, []model.Note{anchor}, newer)
	require.Equal(t, []string{"Z", "Y", "X"}, ids(got))
}

func TestMergeIsIdempotent(t *testing.T) {
	w := Merge([]model.Note{note("a", 1, ""), note("b", 3, ""), note("c", 2, ""), note("d", 3, "")})
	again := Merge(w, w)
	require.Equal(t, w, again)
	require.Equal(t, []string{"b", "d", "c", "a"}, ids(w))
}

func TestMergeKeepsFirstOccurrence(t *testing.T) {
	first := note("dup", 10, "")
	text := "first"
	first.Text = &text
	got := Merge([]model.Note{first}, []model.Note{note("dup", 10, "")})
	require.Len(t, got, 1)
	require.Equal(t, "first", *got[0].Text)
}

func TestMergeEmpty(t *testing.T) {
	require.Empty(t, Merge())
	require.Empty(t, Merge(nil, nil))
}

func TestGetContextTimeline(t *testing.T) {
	f := misskeytest.New()
	f.Notes["Y"] = note("Y", 10, "")
	f.Older["Y"] = []model.Note{note("X", 5, ""), note("W", 4, "")}
	f.Newer["Y"] = []model.Note{note("Z", 15, ""), note("Y", 10, "")}

	got, err := NewAssembler(f, 0).GetContextTimeline(context.Background(), "Y", model.ScopeLocal)
	require.NoError(t, err)
	require.Equal(t, []string{"Z", "Y", "X", "W"}, ids(got))
	require.Equal(t, 2, f.Calls(misskey.EndpointLocalTimeline))
	require.Equal(t, 0, f.Calls(misskey.EndpointGlobalTimeline))
}

func TestGetContextTimelineTruncatesEachSide(t *testing.T) {
	f := misskeytest.New()
	f.Notes["A"] = note("A", 100, "")
	for i := 0; i < 5; i++ {
		f.Older["A"] = append(f.Older["A"], note(string(rune('a'+i)), 90-i, ""))
		f.Newer["A"] = append(f.Newer["A"], note(string(rune('p'+i)), 110+i, ""))
	}

	got, err := NewAssembler(f, 2).GetContextTimeline(context.Background(), "A", model.ScopeGlobal)
	require.NoError(t, err)
	require.Equal(t, []string{"q", "p", "A", "a", "b"}, ids(got))
	require.Equal(t, 2, f.LastTimeline.Limit)
}

func TestGetContextTimelineRunsNeighborsInParallel(t *testing.T) {
	f := misskeytest.New()
	f.Notes["A"] = note("A", 100, "")
	f.Delay = 50 * time.Millisecond

	_, err := NewAssembler(f, 10).GetContextTimeline(context.Background(), "A", model.ScopeGlobal)
	require.NoError(t, err)
	// anchor first, then both neighbors overlapping
	require.Equal(t, 2, f.MaxInFlight())
}

func TestGetContextTimelineAnchorNotFound(t *testing.T) {
	f := misskeytest.New()
	_, err := NewAssembler(f, 10).GetContextTimeline(context.Background(), "missing", model.ScopeGlobal)
	require.True(t, errors.Is(err, errors.ErrNotFound))
	require.Equal(t, 0, f.Calls(misskey.EndpointGlobalTimeline))
}

func TestGetContextTimelineNeighborFailure(t *testing.T) {
	f := misskeytest.New()
	f.Notes["A"] = note("A", 100, "")
	f.Newer["A"] = []model.Note{note("B", 110, "")}
	f.Errs[misskey.EndpointGlobalTimeline] = errors.NewBackend(misskey.EndpointGlobalTimeline, 429, "", "", nil)

	got, err := NewAssembler(f, 10).GetContextTimeline(context.Background(), "A", model.ScopeGlobal)
	require.Error(t, err)
	require.Nil(t, got)
	var be *errors.BackendError
	require.ErrorAs(t, err, &be)
	require.Equal(t, 429, be.StatusCode)
}
