package blueprint

import (
	"context"
	"testing"

	"github.com/Faultbox/clothtear/pkg/constraints"
	"github.com/Faultbox/clothtear/pkg/formats"
	"github.com/Faultbox/clothtear/pkg/math"
	"github.com/Faultbox/clothtear/pkg/topology"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTearable(t *testing.T, n int) *TearableClothBlueprint {
	t.Helper()
	bp := &TearableClothBlueprint{}
	require.NoError(t, bp.Generate(context.Background(), formats.Grid(n, n, 1), DefaultOptions(), nil))
	return bp
}

func buildPlain(t *testing.T, n int) *ClothBlueprint {
	t.Helper()
	bp := &ClothBlueprint{}
	require.NoError(t, bp.Generate(context.Background(), formats.Grid(n, n, 1), DefaultOptions(), nil))
	return bp
}

// assertBatchesDisjoint checks that no two constraints of a batch share a particle.
func assertBatchesDisjoint[P any](t *testing.T, set *constraints.Set[P]) {
	t.Helper()
	for bi, b := range set.Batches {
		seen := make(map[int]int)
		for i := 0; i < b.ConstraintCount(); i++ {
			for _, p := range b.Particles(i) {
				if other, dup := seen[p]; dup {
					t.Errorf("%s batch %d: constraints %d and %d share particle %d", set.Kind, bi, other, i, p)
				}
				seen[p] = i
			}
		}
	}
}

func TestGenerateTearableGrid(t *testing.T) {
	bp := buildTearable(t, 3)

	assert.True(t, bp.Built())
	assert.True(t, bp.Tearable())
	assert.Equal(t, 9, bp.ActiveParticleCount())
	assert.Equal(t, 7, bp.PooledParticles)
	assert.Equal(t, 16, bp.ParticleCount())
	assert.Equal(t, 7, bp.Particles.Pooled())
	assert.Len(t, bp.TearResistance, 16)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, bp.VertexToParticle)

	assert.Equal(t, 24, bp.Distance.ConstraintCount())
	assert.Equal(t, 16, bp.Distance.ActiveConstraintCount())
	assertBatchesDisjoint(t, bp.Distance)

	mesh := bp.Topology
	require.Len(t, bp.DistanceConstraintMap, mesh.HalfEdgeCount())
	for h, handle := range bp.DistanceConstraintMap {
		batch, index, ok := bp.Distance.Lookup(handle)
		require.True(t, ok, "half-edge %d", h)
		assert.Equal(t, []int{mesh.Origin(h), mesh.End(h)}, batch.Particles(index))

		pair := mesh.Pair(h)
		switch {
		case pair == topology.None:
			assert.True(t, batch.IsActive(index), "border half-edge %d", h)
		case h < pair:
			assert.True(t, batch.IsActive(index), "lower half-edge %d", h)
			assert.NotEqual(t, handle.Batch, bp.DistanceConstraintMap[pair].Batch)
		default:
			assert.False(t, batch.IsActive(index), "upper half-edge %d", h)
		}
	}
}

func TestGeneratePlainGrid(t *testing.T) {
	bp := buildPlain(t, 3)

	assert.True(t, bp.Built())
	assert.Equal(t, 9, bp.ParticleCount())
	assert.Equal(t, 9, bp.ActiveParticleCount())
	assert.Equal(t, 16, bp.Distance.ConstraintCount())
	assert.Equal(t, 16, bp.Distance.ActiveConstraintCount())
	assertBatchesDisjoint(t, bp.Distance)
	assert.NotNil(t, bp.Tethers)
	assert.Zero(t, bp.Tethers.ConstraintCount())
}

func TestParticleProperties(t *testing.T) {
	bp := buildTearable(t, 3)
	p := bp.Particles

	// Mass 0.1 per unit area, a third of each incident triangle's area.
	assert.InDelta(t, 10, p.InvMasses[4], 1e-4)
	assert.InDelta(t, 30, p.InvMasses[0], 1e-4)
	assert.InDelta(t, 60, p.InvMasses[2], 1e-4)
	assert.Zero(t, p.InvMasses[9], "pooled slots start unused")

	wantRadius := (4 + 2*math.Vec3{X: 1, Y: 1}.Length()) / 6 / 2
	assert.InDelta(t, wantRadius, p.Radii[4], 1e-5)

	assert.Equal(t, math.Vec3{X: 1, Y: 1}, p.Positions[4])
	assert.Equal(t, p.Positions[4], p.RestPositions[4])
	// The grid faces +Z already.
	assert.Equal(t, math.QuatIdentity(), p.Orientations[4])
	assert.Equal(t, DefaultFilter, p.Filters[4])

	for _, r := range bp.TearResistance {
		assert.Equal(t, DefaultOptions().TearResistance, r)
	}
}

func TestBendConstraints(t *testing.T) {
	bp := buildTearable(t, 3)
	assert.Equal(t, bp.Bend.ConstraintCount(), bp.Bend.ActiveConstraintCount())
	assertBatchesDisjoint(t, bp.Bend)

	var around4 [][]int
	for _, b := range bp.Bend.Batches {
		for i := 0; i < b.ConstraintCount(); i++ {
			particles := b.Particles(i)
			assert.NotEqual(t, particles[0], particles[1])
			if particles[2] == 4 {
				around4 = append(around4, append([]int(nil), particles...))
				assert.InDelta(t, 0, b.Params[i].RestBend, 1e-6, "straight bends are flat")
			}
		}
	}
	assert.ElementsMatch(t, [][]int{{0, 8, 4}, {1, 7, 4}, {3, 5, 4}}, around4)
}

func TestBuildDeterministic(t *testing.T) {
	a := buildTearable(t, 4)
	b := buildTearable(t, 4)

	assert.NotEqual(t, a.BuildID, b.BuildID)
	assert.Equal(t, a.Distance, b.Distance)
	assert.Equal(t, a.Bend, b.Bend)
	assert.Equal(t, a.DistanceConstraintMap, b.DistanceConstraintMap)
	assert.Equal(t, a.Particles, b.Particles)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		src  *formats.Mesh
		want error
	}{
		{"missing", nil, ErrMissingMesh},
		{"no triangles", &formats.Mesh{Positions: []math.Vec3{{}}}, ErrEmptyMesh},
		{"partial triangle", &formats.Mesh{Positions: make([]math.Vec3, 3), Indices: []int{0, 1}}, ErrInvalidIndices},
		{"out of range", &formats.Mesh{Positions: make([]math.Vec3, 3), Indices: []int{0, 1, 3}}, ErrInvalidIndices},
		{"collapsed", &formats.Mesh{Positions: make([]math.Vec3, 3), Indices: []int{0, 1, 2}}, ErrEmptyMesh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bp := &TearableClothBlueprint{}
			err := bp.Generate(context.Background(), tt.src, DefaultOptions(), nil)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, bp.Built(), "failed builds leave the target untouched")

			// The failure sticks.
			builder := NewBuilder(tt.src, DefaultOptions(), true)
			_ = builder.Run(context.Background(), nil)
			_, err = builder.Step()
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, builder.Err(), tt.want)
		})
	}
}

func TestBuilderProgress(t *testing.T) {
	builder := NewBuilder(formats.Grid(5, 5, 1), DefaultOptions(), true)
	assert.Equal(t, StageValidate, builder.Stage())

	var last Progress
	steps := 0
	require.NoError(t, builder.Run(context.Background(), func(p Progress) {
		assert.GreaterOrEqual(t, p.Fraction, last.Fraction)
		assert.GreaterOrEqual(t, p.Stage, last.Stage)
		assert.NotEmpty(t, p.Description)
		last = p
		steps++
	}))

	assert.True(t, builder.Done())
	assert.Equal(t, StageDone, last.Stage)
	assert.Equal(t, float32(1), last.Fraction)
	assert.GreaterOrEqual(t, steps, int(StageDone))
}

func TestBuilderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	builder := NewBuilder(formats.Grid(5, 5, 1), DefaultOptions(), true)

	err := builder.Run(ctx, func(p Progress) {
		if p.Stage >= StageDistanceColor {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, builder.Done())

	target := &TearableClothBlueprint{}
	assert.ErrorIs(t, builder.CommitTearable(target), ErrNotBuilt)
	assert.Equal(t, uuid.Nil, target.BuildID)
}

func TestCommit(t *testing.T) {
	builder := NewBuilder(formats.Grid(3, 3, 1), DefaultOptions(), false)
	require.NoError(t, builder.Run(context.Background(), nil))

	assert.ErrorIs(t, builder.CommitTearable(&TearableClothBlueprint{}), ErrWrongKind)

	target := &ClothBlueprint{}
	require.NoError(t, builder.Commit(target))
	assert.True(t, target.Built())
	assert.ErrorIs(t, builder.Commit(&ClothBlueprint{}), ErrNotBuilt, "a build commits once")
}

func TestPoolSize(t *testing.T) {
	assert.Equal(t, 7, PoolSize(8, 9, 0.5))
	assert.Equal(t, 15, PoolSize(8, 9, 1))
	assert.Equal(t, 0, PoolSize(8, 9, 0))
	assert.Equal(t, 0, PoolSize(1, 5, 1))
}

func TestCloneIsIndependent(t *testing.T) {
	bp := buildTearable(t, 3)
	clone, err := bp.Clone()
	require.NoError(t, err)
	assert.Equal(t, bp, clone)

	clone.Particles.Positions[0] = math.Vec3{X: 42}
	clone.TearResistance[0] = 0
	clone.DistanceConstraintMap[0] = constraints.NoHandle
	clone.Topology.Pairs[1] = topology.None
	clone.Distance.Batches[0].Deactivate(0)

	assert.Equal(t, math.Vec3{}, bp.Particles.Positions[0])
	assert.Equal(t, DefaultOptions().TearResistance, bp.TearResistance[0])
	assert.True(t, bp.DistanceConstraintMap[0].Valid())
	assert.NotEqual(t, topology.None, bp.Topology.Pairs[1])
	assert.NotEqual(t, bp.Distance.Batches[0].ActiveConstraintCount(), clone.Distance.Batches[0].ActiveConstraintCount())
}

func TestCopyParticle(t *testing.T) {
	bp := buildTearable(t, 3)
	bp.TearResistance[4] = 7

	bp.CopyParticle(4, 9)
	assert.Equal(t, bp.Particles.Positions[4], bp.Particles.Positions[9])
	assert.Equal(t, bp.Particles.InvMasses[4], bp.Particles.InvMasses[9])
	assert.Equal(t, float32(7), bp.TearResistance[9])
}

func TestOptionsFromConfig(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, float32(0.5), opts.TearCapacity)
	assert.Equal(t, float32(0.1), opts.ParticleMass)
	assert.Equal(t, float32(1), opts.TearResistance)
}
