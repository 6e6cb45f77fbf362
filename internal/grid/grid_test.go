package grid

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildThreeScenes(t *testing.T) {
	scenes := []SceneBounds{
		{Left: 0, Bottom: 0, Right: 100, Top: 100},
		{Left: 50, Bottom: 50, Right: 150, Top: 150},
		{Left: -20, Bottom: -20, Right: 80, Top: 80},
	}

	g, err := Build(scenes, 10)
	require.NoError(t, err)

	want := Grid{OriginX: -20, OriginY: 150, Resolution: 10, Width: 17, Height: 17}
	if diff := cmp.Diff(want, g); diff != "" {
		t.Errorf("grid mismatch (-want +got):\n%s", diff)
	}
	for _, s := range scenes {
		assert.True(t, g.Contains(s), "grid %s should contain %s", g, s)
	}
}

func TestBuildSnapsOutward(t *testing.T) {
	g, err := Build([]SceneBounds{{Left: 3, Bottom: -7, Right: 41, Top: 12}}, 10)
	require.NoError(t, err)

	assert.Equal(t, 0.0, g.OriginX)
	assert.Equal(t, 20.0, g.OriginY)
	assert.Equal(t, 50.0, g.Right())
	assert.Equal(t, -10.0, g.Bottom())
	assert.Equal(t, 5, g.Width)
	assert.Equal(t, 3, g.Height)
}

func TestBuildKeepsAlignedEdges(t *testing.T) {
	// 0.1*3 is not exactly 0.3; the edge must not grow a pixel
	g, err := Build([]SceneBounds{{Left: 0.1 * 3, Bottom: 0, Right: 0.9, Top: 0.3}}, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 6, g.Width)
	assert.Equal(t, 3, g.Height)
}

func TestBuildEmpty(t *testing.T) {
	_, err := Build(nil, 10)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestBuildInvalid(t *testing.T) {
	scenes := []SceneBounds{{Left: 0, Bottom: 0, Right: 10, Top: 10}}

	for _, res := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		_, err := Build(scenes, res)
		assert.ErrorIs(t, err, ErrInvalidResolution, "resolution %g", res)
	}

	_, err := Build([]SceneBounds{{Left: 10, Bottom: 0, Right: 0, Top: 10}}, 1)
	assert.Error(t, err)
}

func TestBuildProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		res := float64(1 + rng.Intn(60))
		n := 1 + rng.Intn(6)
		scenes := make([]SceneBounds, n)
		for i := range scenes {
			left := rng.Float64()*20000 - 10000
			bottom := rng.Float64()*20000 - 10000
			scenes[i] = SceneBounds{
				Left:   left,
				Bottom: bottom,
				Right:  left + 1 + rng.Float64()*5000,
				Top:    bottom + 1 + rng.Float64()*5000,
			}
		}

		g, err := Build(scenes, res)
		require.NoError(t, err)

		assert.InDelta(t, 0, math.Mod(g.OriginX, res), 1e-9)
		assert.InDelta(t, 0, math.Mod(g.OriginY, res), 1e-9)
		for _, s := range scenes {
			require.True(t, g.Contains(s), "iteration %d: %s does not contain %s", iter, g, s)
		}
		// minimal: shrinking by one pixel would lose coverage
		assert.Less(t, g.Right()-res, maxRight(scenes))
		assert.Greater(t, g.OriginX+res, minLeft(scenes))
	}
}

func maxRight(s []SceneBounds) float64 {
	m := math.Inf(-1)
	for _, b := range s {
		m = math.Max(m, b.Right)
	}
	return m
}

func minLeft(s []SceneBounds) float64 {
	m := math.Inf(1)
	for _, b := range s {
		m = math.Min(m, b.Left)
	}
	return m
}

func TestSceneBoundsIntersects(t *testing.T) {
	a := SceneBounds{Left: 0, Bottom: 0, Right: 10, Top: 10}
	assert.True(t, a.Intersects(SceneBounds{Left: 5, Bottom: 5, Right: 15, Top: 15}))
	assert.False(t, a.Intersects(SceneBounds{Left: 10, Bottom: 0, Right: 20, Top: 10}))
	assert.False(t, a.Intersects(SceneBounds{Left: -30, Bottom: -30, Right: -20, Top: -20}))
}
