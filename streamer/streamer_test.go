package streamer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDelta_FindsLastLineAndReturnsRest(t *testing.T) {
	old := "line1\nline2\nline3"
	new := "line1\nline2\nline3\nline4\nline5"
	assert.Equal(t, "line4\nline5", Delta(old, new))
}

func TestDelta_FallsBackToTailWhenLastLineNotFound(t *testing.T) {
	old := "unrelated line that scrolled away"
	new := "totally different content now\nmore content"
	assert.Equal(t, new, Delta(old, new))
}

func TestDelta_EmptyOldReturnsWholeSnapshot(t *testing.T) {
	assert.Equal(t, "hello", Delta("", "hello"))
}

func TestDelta_ConcatenationReconstructsSnapshot(t *testing.T) {
	snapshots := []string{
		"a\nb",
		"a\nb\nc\nd",
		"a\nb\nc\nd\ne",
	}
	var rebuilt string
	prev := ""
	for i, snap := range snapshots {
		if i == 0 {
			rebuilt = snap
		} else {
			rebuilt += "\n" + Delta(prev, snap)
		}
		prev = snap
	}
	assert.Equal(t, snapshots[len(snapshots)-1], rebuilt)
}
