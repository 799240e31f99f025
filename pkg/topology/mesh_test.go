package topology

import (
	"testing"

	"github.com/Faultbox/clothtear/pkg/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grid returns an n x n grid of vertices in the XY plane with two
// counter-clockwise triangles per cell, split along the (x,y)-(x+1,y+1) diagonal.
func grid(n int) ([]math.Vec3, []int) {
	var positions []math.Vec3
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			positions = append(positions, math.Vec3{X: float32(x), Y: float32(y)})
		}
	}
	var indices []int
	for y := 0; y < n-1; y++ {
		for x := 0; x < n-1; x++ {
			a := y*n + x
			b, c, d := a+1, a+n, a+n+1
			indices = append(indices, a, b, d, a, d, c)
		}
	}
	return positions, indices
}

func TestBuildGrid(t *testing.T) {
	positions, indices := grid(3)
	m, vertexToCluster, err := Build(positions, indices, 0)
	require.NoError(t, err)

	assert.Len(t, m.Clusters, 9)
	assert.Len(t, m.Triangles, 8)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, vertexToCluster)
	assert.Len(t, m.Edges(), 16)

	borders := 0
	for h, p := range m.Pairs {
		if p == None {
			borders++
			continue
		}
		assert.Equal(t, h, m.Pairs[p], "pairs must be symmetric")
		assert.Equal(t, m.Origin(h), m.End(p))
		assert.Equal(t, m.End(h), m.Origin(p))
	}
	assert.Equal(t, 8, borders)

	assert.Equal(t, []int{0, 1, 3, 4, 6, 7}, m.IncidentFaces(4))
	assert.Equal(t, []int{0, 1, 3, 5, 7, 8}, m.Neighbours(4))
	assert.InDelta(t, 1, m.Clusters[4].Normal.Z, 1e-6)
	assert.InDelta(t, 0.5, m.Area(0), 1e-6)
}

func TestBuildWeld(t *testing.T) {
	// Two triangles with duplicated shared-edge vertices.
	positions := []math.Vec3{
		{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1},
		{X: 0, Y: 0}, {X: 1, Y: 1.001}, {X: 0, Y: 1},
	}
	indices := []int{0, 1, 2, 3, 4, 5}

	tests := []struct {
		name     string
		weld     float32
		clusters int
		paired   bool
	}{
		{"exact", 0, 5, false},
		{"tolerant", 0.01, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, vertexToCluster, err := Build(positions, indices, tt.weld)
			require.NoError(t, err)
			assert.Len(t, m.Clusters, tt.clusters)
			assert.Equal(t, vertexToCluster[0], vertexToCluster[3])
			paired := false
			for _, p := range m.Pairs {
				paired = paired || p != None
			}
			assert.Equal(t, tt.paired, paired)
		})
	}
}

func TestBuildDropsCollapsedTriangles(t *testing.T) {
	positions := []math.Vec3{{X: 0}, {X: 1}, {X: 1}, {Y: 1}}
	m, _, err := Build(positions, []int{0, 1, 2, 0, 1, 3}, 0)
	require.NoError(t, err)
	assert.Len(t, m.Triangles, 1)
}

func TestBuildErrors(t *testing.T) {
	positions, _ := grid(2)
	tests := []struct {
		name    string
		indices []int
		wantErr error
	}{
		{"empty", nil, ErrNoTriangles},
		{"ragged", []int{0, 1}, ErrIndexCount},
		{"out of range", []int{0, 1, 9}, ErrIndexOutOfRange},
		{"all collapsed", []int{0, 0, 1}, ErrNoTriangles},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Build(positions, tt.indices, 0)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHalfEdgeNavigation(t *testing.T) {
	positions, indices := grid(2)
	m, _, err := Build(positions, indices, 0)
	require.NoError(t, err)

	// Triangle 0 is (0, 1, 3).
	assert.Equal(t, 0, m.Origin(0))
	assert.Equal(t, 1, m.End(0))
	assert.Equal(t, 1, m.Next(0))
	assert.Equal(t, 0, m.Next(2))
	assert.Equal(t, 1, m.Face(4))
	assert.True(t, m.Touches(2, 0))
	assert.False(t, m.Touches(1, 0))
	assert.Equal(t, []int{0, 2, 3, 5}, m.HalfEdgesAround(0, []int{0, 1}))
}
