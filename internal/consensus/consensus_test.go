package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect_IntersectionWins(t *testing.T) {
	sets := map[string]Set[string]{
		"A": NewSet("2025-01-01", "2025-02-01"),
		"B": NewSet("2025-02-01"),
	}

	d, err := Select(sets, Options{Coverage: 0.8, TotalKeys: 2})
	require.NoError(t, err)

	assert.True(t, d.Found)
	assert.Equal(t, "2025-02-01", d.Value)
	assert.Equal(t, MethodIntersection, d.Method)
	assert.Equal(t, 2, d.Support)
}

func TestSelect_LatestSharedDate(t *testing.T) {
	sets := map[string]Set[string]{
		"AAPL": NewSet("2025-01-17", "2025-03-21", "2025-06-20", "2026-01-16"),
		"NU":   NewSet("2025-01-17", "2025-03-21", "2025-06-20"),
		"RKLB": NewSet("2025-01-17", "2025-03-21"),
	}

	d, err := Select(sets, Options{Coverage: 0.6, TotalKeys: 3})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-21", d.Value)
	assert.Equal(t, MethodIntersection, d.Method)
}

func TestSelect_CoverageFallback(t *testing.T) {
	sets := map[string]Set[string]{
		"A": NewSet("x"),
		"B": NewSet("y"),
		"C": NewSet("x"),
	}

	d, err := Select(sets, Options{Coverage: 0.6, TotalKeys: 3})
	require.NoError(t, err)

	assert.True(t, d.Found)
	assert.Equal(t, "x", d.Value)
	assert.Equal(t, MethodCoverage, d.Method)
	assert.Equal(t, 2, d.Threshold)
	assert.Equal(t, 2, d.Support)
}

func TestSelect_CoveragePicksMaximumEligible(t *testing.T) {
	sets := map[string]Set[int]{
		"A": NewSet(1, 2, 3),
		"B": NewSet(2, 3),
		"C": NewSet(1, 2),
		"D": NewSet(9),
	}

	d, err := Select(sets, Options{Coverage: 0.5, TotalKeys: 4})
	require.NoError(t, err)
	assert.Equal(t, 3, d.Value)
	assert.Equal(t, MethodCoverage, d.Method)
}

func TestSelect_NoConsensusIsExplicit(t *testing.T) {
	sets := map[string]Set[string]{
		"A": NewSet("x"),
		"B": NewSet("y"),
	}

	d, err := Select(sets, Options{Coverage: 0.9, TotalKeys: 2})
	require.NoError(t, err)

	assert.False(t, d.Found)
	assert.Equal(t, MethodNone, d.Method)
	assert.Equal(t, 2, d.Threshold)
	assert.Equal(t, "", d.Value)
}

func TestSelect_FailedKeysCountTowardThreshold(t *testing.T) {
	// Two keys agree but the run had five keys; 0.6 coverage needs three.
	sets := map[string]Set[string]{
		"A": NewSet("x"),
		"B": NewSet("x", "y"),
		"C": NewSet("y"),
	}

	d, err := Select(sets, Options{Coverage: 0.6, TotalKeys: 5})
	require.NoError(t, err)
	assert.False(t, d.Found)
	assert.Equal(t, 3, d.Threshold)
	assert.Equal(t, 5, d.TotalKeys)
}

func TestSelect_AllEmpty(t *testing.T) {
	sets := map[string]Set[string]{
		"A": NewSet[string](),
		"B": {},
	}

	d, err := Select(sets, Options{Coverage: 0.8, TotalKeys: 2})
	require.NoError(t, err)
	assert.False(t, d.Found)
	assert.Equal(t, MethodNone, d.Method)
}

func TestSelect_NoSets(t *testing.T) {
	d, err := Select(map[string]Set[string]{}, Options{Coverage: 0.8, TotalKeys: 4})
	require.NoError(t, err)
	assert.False(t, d.Found)
}

func TestSelect_MixedEmptyExcludedFromIntersection(t *testing.T) {
	sets := map[string]Set[string]{
		"A": NewSet("2025-01-17", "2025-02-21"),
		"B": NewSet("2025-02-21"),
		"C": NewSet[string](),
	}

	d, err := Select(sets, Options{Coverage: 0.9, TotalKeys: 3})
	require.NoError(t, err)
	assert.True(t, d.Found)
	assert.Equal(t, "2025-02-21", d.Value)
	assert.Equal(t, MethodIntersection, d.Method)
	assert.Equal(t, 2, d.Support)
	assert.Equal(t, 3, d.TotalKeys)
}

func TestSelect_MixedEmptyStillCountsForCoverage(t *testing.T) {
	sets := map[string]Set[string]{
		"A": NewSet("x"),
		"B": NewSet("x"),
		"C": NewSet("y"),
		"D": NewSet[string](),
	}

	// 3 of 4 needed; x has 2.
	d, err := Select(sets, Options{Coverage: 0.75, TotalKeys: 4})
	require.NoError(t, err)
	assert.False(t, d.Found)

	// 2 of 4 needed; x qualifies.
	d, err = Select(sets, Options{Coverage: 0.5, TotalKeys: 4})
	require.NoError(t, err)
	assert.True(t, d.Found)
	assert.Equal(t, "x", d.Value)
}

func TestSelect_InvalidCoverage(t *testing.T) {
	sets := map[string]Set[string]{"A": NewSet("x")}
	for _, c := range []float64{0, -0.1, 1.5} {
		_, err := Select(sets, Options{Coverage: c, TotalKeys: 1})
		assert.ErrorIs(t, err, ErrInvalidCoverage)
	}
}

func TestSelect_Deterministic(t *testing.T) {
	sets := map[string]Set[string]{
		"A": NewSet("a", "b", "c"),
		"B": NewSet("b", "c", "d"),
		"C": NewSet("c", "d", "e"),
		"D": NewSet("d", "e"),
	}

	first, err := Select(sets, Options{Coverage: 0.5, TotalKeys: 4})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		d, err := Select(sets, Options{Coverage: 0.5, TotalKeys: 4})
		require.NoError(t, err)
		assert.Equal(t, first, d)
	}
	assert.Equal(t, "e", first.Value)
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		coverage float64
		total    int
		want     int
	}{
		{0.6, 3, 2},
		{0.9, 2, 2},
		{0.8, 5, 4},
		{0.6, 5, 3},
		{0.8, 54, 44},
		{1.0, 7, 7},
		{0.01, 3, 1},
		{0.5, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Threshold(tt.coverage, tt.total), "coverage=%v total=%d", tt.coverage, tt.total)
	}
}

func TestResolve(t *testing.T) {
	shared := Decision[string]{Value: "2025-06-20", Found: true, Method: MethodCoverage}

	v, usedShared, ok := Resolve(shared, NewSet("2025-01-17", "2025-06-20"))
	assert.True(t, ok)
	assert.True(t, usedShared)
	assert.Equal(t, "2025-06-20", v)

	v, usedShared, ok = Resolve(shared, NewSet("2025-01-17", "2025-03-21"))
	assert.True(t, ok)
	assert.False(t, usedShared)
	assert.Equal(t, "2025-03-21", v)

	none := Decision[string]{Method: MethodNone}
	v, usedShared, ok = Resolve(none, NewSet("2025-01-17", "2025-03-21"))
	assert.True(t, ok)
	assert.False(t, usedShared)
	assert.Equal(t, "2025-03-21", v)

	_, _, ok = Resolve(none, NewSet[string]())
	assert.False(t, ok)
}

func TestSet_Sorted(t *testing.T) {
	assert.Equal(t, []int{1, 2, 5}, NewSet(5, 1, 2, 2).Sorted())
	_, ok := NewSet[int]().Max()
	assert.False(t, ok)
}
