package linerange

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rangesOf(pairs ...int) []Range {
	out := make([]Range, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, New(pairs[i], pairs[i+1]))
	}
	return out
}

func randomRanges(rng *rand.Rand) []Range {
	n := rng.Intn(6)
	out := make([]Range, 0, n)
	for i := 0; i < n; i++ {
		start := 1 + rng.Intn(40)
		out = append(out, New(start, start+rng.Intn(8)))
	}
	return out
}

func lineSet(ranges []Range) map[int]bool {
	set := make(map[int]bool)
	for _, line := range AllUniqueLines(ranges) {
		set[line] = true
	}
	return set
}

func TestContainsLine(t *testing.T) {
	ranges := rangesOf(3, 5, 10, 10)

	tests := []struct {
		line int
		want bool
	}{
		{2, false},
		{3, true},
		{5, true},
		{6, false},
		{10, true},
		{11, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContainsLine(ranges, tt.line), "line %d", tt.line)
	}
	assert.False(t, ContainsLine([]Range(nil), 1))
}

func TestUniqueLineCount(t *testing.T) {
	t.Run("disjoint", func(t *testing.T) {
		assert.Equal(t, 4, UniqueLineCount(rangesOf(1, 3, 7, 7)))
	})
	t.Run("overlapping ranges are not double counted", func(t *testing.T) {
		assert.Equal(t, 6, UniqueLineCount(rangesOf(1, 4, 3, 6, 2, 2)))
	})
	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, 0, UniqueLineCount([]Range{}))
	})
}

func TestAllUniqueLines(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3, 5, 8, 9}, AllUniqueLines(rangesOf(8, 9, 1, 3, 2, 3, 5, 5)))
	assert.Empty(t, AllUniqueLines([]Range(nil)))
}

func TestRemoveLine(t *testing.T) {
	tests := []struct {
		name   string
		ranges []Range
		line   int
		want   []Range
	}{
		{"not covered", rangesOf(3, 5), 7, rangesOf(3, 5)},
		{"single line dropped", rangesOf(4, 4, 8, 9), 4, rangesOf(8, 9)},
		{"start edge shrinks", rangesOf(3, 5), 3, rangesOf(4, 5)},
		{"end edge shrinks", rangesOf(3, 5), 5, rangesOf(3, 4)},
		{"interior splits", rangesOf(3, 7), 5, rangesOf(3, 4, 6, 7)},
		{"applies to every range", rangesOf(1, 5, 4, 6), 4, rangesOf(1, 3, 5, 5, 5, 6)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemoveLine(tt.ranges, tt.line, Range.WithBounds)
			assert.Equal(t, tt.want, got)
			for _, r := range got {
				assert.True(t, r.Start <= r.End, "inverted range %s", r)
			}
		})
	}
}

func TestRemoveRange(t *testing.T) {
	tests := []struct {
		name   string
		ranges []Range
		start  int
		end    int
		want   []Range
	}{
		{"split", rangesOf(1, 15), 3, 12, rangesOf(1, 2, 13, 15)},
		{"no overlap", rangesOf(1, 2, 20, 21), 5, 10, rangesOf(1, 2, 20, 21)},
		{"fully contained dropped", rangesOf(5, 8), 1, 10, []Range{}},
		{"exact match dropped", rangesOf(5, 8), 5, 8, []Range{}},
		{"overlap at start", rangesOf(5, 10), 3, 6, rangesOf(7, 10)},
		{"overlap at end", rangesOf(5, 10), 9, 12, rangesOf(5, 8)},
		{"touching edge is not overlap", rangesOf(5, 10), 11, 12, rangesOf(5, 10)},
		{"split keeps single-line remainders", rangesOf(4, 6), 5, 5, rangesOf(4, 4, 6, 6)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemoveRange(tt.ranges, tt.start, tt.end, Range.WithBounds))
		})
	}

	t.Run("large span is handled without per-line work", func(t *testing.T) {
		got := RemoveRange(rangesOf(1, 1_000_000_000), 2, 999_999_999, Range.WithBounds)
		assert.Equal(t, rangesOf(1, 1, 1_000_000_000, 1_000_000_000), got)
	})
}

func TestRemovePreservesPayload(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ranges := []Timestamped{NewTimestamped(1, 10, at)}

	got := RemoveRange(ranges, 4, 6, Timestamped.WithBounds)
	require.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, at, r.MarkedAt)
	}

	got = RemoveLine(ranges, 1, Timestamped.WithBounds)
	require.Len(t, got, 1)
	assert.Equal(t, NewTimestamped(2, 10, at), got[0])
}

func TestLinesSince(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ranges := []Timestamped{
		NewTimestamped(1, 3, t0),
		NewTimestamped(3, 6, t0.Add(time.Minute)),
		NewTimestamped(10, 10, t0.Add(2*time.Minute)),
	}

	assert.Equal(t, 7, LinesSince(ranges, t0))
	assert.Equal(t, 5, LinesSince(ranges, t0.Add(time.Minute)))
	assert.Equal(t, 1, LinesSince(ranges, t0.Add(90*time.Second)))
	assert.Equal(t, 0, LinesSince(ranges, t0.Add(time.Hour)))
}

func TestNormalize(t *testing.T) {
	in := rangesOf(10, 12, 1, 2, 3, 4, 11, 15, 20, 20)
	assert.Equal(t, rangesOf(1, 4, 10, 15, 20, 20), Normalize(in))
	assert.Equal(t, rangesOf(10, 12), in[:1], "input must not be modified")
	assert.Nil(t, Normalize(nil))
}

func TestInvalidRangePanics(t *testing.T) {
	bad := []Range{{Start: 5, End: 3}}

	assert.PanicsWithError(t, "linerange: ContainsLine: invalid range [5,3]", func() {
		ContainsLine(bad, 4)
	})
	assert.Panics(t, func() { UniqueLineCount(bad) })
	assert.Panics(t, func() { RemoveLine(bad, 4, Range.WithBounds) })
	assert.Panics(t, func() { RemoveRange(rangesOf(1, 2), 9, 3, Range.WithBounds) })
}

func TestAlgebraProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		ranges := randomRanges(rng)
		line := 1 + rng.Intn(50)

		lines := AllUniqueLines(ranges)
		require.Len(t, lines, UniqueLineCount(ranges))
		for j := 1; j < len(lines); j++ {
			require.Less(t, lines[j-1], lines[j])
		}

		removed := RemoveLine(ranges, line, Range.WithBounds)
		if ContainsLine(ranges, line) {
			require.Equal(t, UniqueLineCount(ranges)-1, UniqueLineCount(removed))
			require.False(t, ContainsLine(removed, line))
		} else {
			require.Equal(t, ranges, removed)
		}

		start := 1 + rng.Intn(50)
		end := start + rng.Intn(10)
		rest := lineSet(RemoveRange(ranges, start, end, Range.WithBounds))
		original := lineSet(ranges)
		for l := start; l <= end; l++ {
			require.False(t, rest[l])
			if original[l] {
				rest[l] = true
			}
		}
		require.Equal(t, original, rest)
	}
}
