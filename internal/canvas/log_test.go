package canvas

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seg(author string, ts int64) Command {
	return SegmentCommand(Segment{
		From:      Pt(0.1, 0.1),
		To:        Pt(0.2, 0.2),
		Color:     "#111111",
		Size:      4,
		Mode:      ModeDraw,
		AuthorID:  author,
		Timestamp: ts,
	})
}

func timestamps(cmds []Command) []int64 {
	out := make([]int64, len(cmds))
	for i, c := range cmds {
		out[i] = c.Timestamp()
	}
	return out
}

func TestLog_AppendWithinCapacity(t *testing.T) {
	l := NewLog(5)
	for i := int64(1); i <= 3; i++ {
		assert.False(t, l.Append(seg("a", i)))
	}
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, []int64{1, 2, 3}, timestamps(l.Snapshot()))
}

func TestLog_EvictsOldest(t *testing.T) {
	l := NewLog(3)
	for i := int64(1); i <= 3; i++ {
		l.Append(seg("a", i))
	}
	assert.True(t, l.Append(seg("a", 4)))
	assert.True(t, l.Append(seg("a", 5)))

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, []int64{3, 4, 5}, timestamps(l.Snapshot()))
}

func TestLog_ClearIsStoredAndCanBeEvicted(t *testing.T) {
	l := NewLog(2)
	l.Append(ClearCommand(Clear{AuthorID: "a", Timestamp: 1}))
	l.Append(seg("a", 2))
	l.Append(seg("a", 3))

	for _, c := range l.Snapshot() {
		assert.Equal(t, KindSegment, c.Kind())
	}
}

func TestLog_ReplaceKeepsMostRecent(t *testing.T) {
	l := NewLog(3)
	l.Append(seg("old", 99))

	in := []Command{seg("b", 1), seg("b", 2), seg("b", 3), seg("b", 4), seg("b", 5)}
	l.Replace(in)

	assert.Equal(t, []int64{3, 4, 5}, timestamps(l.Snapshot()))

	// Appending after a replace continues in order.
	l.Append(seg("b", 6))
	assert.Equal(t, []int64{4, 5, 6}, timestamps(l.Snapshot()))
}

func TestLog_ReplaceWithEmpty(t *testing.T) {
	l := NewLog(3)
	l.Append(seg("a", 1))
	l.Replace(nil)
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Snapshot())
}

func TestLog_SnapshotIsACopy(t *testing.T) {
	l := NewLog(3)
	l.Append(seg("a", 1))
	snap := l.Snapshot()
	snap[0] = seg("mutated", 42)
	assert.Equal(t, []int64{1}, timestamps(l.Snapshot()))
}

func TestNewLog_DefaultLimit(t *testing.T) {
	require.Equal(t, DefaultHistoryLimit, NewLog(0).Cap())
}

// TestLog_BoundedProperty checks that for any number of appends the log never
// exceeds its capacity and keeps exactly the most recent entries in order.
func TestLog_BoundedProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("log retains the last H commands in order", prop.ForAll(
		func(limit, n int) bool {
			l := NewLog(limit)
			for i := 0; i < n; i++ {
				l.Append(seg("p", int64(i)))
				if l.Len() > limit {
					return false
				}
			}
			got := timestamps(l.Snapshot())
			want := min(n, limit)
			if len(got) != want {
				return false
			}
			for i, ts := range got {
				if ts != int64(n-want+i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 300),
	))

	properties.TestingRun(t)
}
