// Package solver holds solver-space particle and constraint data for one or
// more actors. It does not integrate or project constraints itself; a
// simulation backend fills the lambdas and the actors read them back.
package solver

import (
	"errors"
	"fmt"

	"github.com/Faultbox/clothtear/internal/blueprint"
	"github.com/Faultbox/clothtear/internal/logger"
	"github.com/Faultbox/clothtear/pkg/constraints"
	"github.com/Faultbox/clothtear/pkg/math"
	"go.uber.org/zap"
)

// ErrSolverFull is returned when an actor does not fit in the remaining slots.
var ErrSolverFull = errors.New("solver has no room for actor")

type lambdaKey struct {
	kind  constraints.Kind
	batch int
}

// Buffers stores solver-space particle arrays and per-batch Lagrange
// multipliers.
type Buffers struct {
	positions  []math.Vec3
	velocities []math.Vec3
	invMasses  []float32
	radii      []float32
	lambdas    map[lambdaKey][]float32
	used       int

	// DirtyConstraints has the Kind.Mask() bit set for every constraint
	// family that must be re-synced.
	DirtyConstraints uint32
	// DirtyDeformableTriangles is set when the triangle topology of an
	// actor changed.
	DirtyDeformableTriangles bool

	log *zap.Logger
}

// NewBuffers allocates room for capacity particles.
func NewBuffers(capacity int) *Buffers {
	return &Buffers{
		positions:  make([]math.Vec3, capacity),
		velocities: make([]math.Vec3, capacity),
		invMasses:  make([]float32, capacity),
		radii:      make([]float32, capacity),
		lambdas:    make(map[lambdaKey][]float32),
		log:        logger.Named("solver"),
	}
}

// Capacity returns the number of particle slots.
func (b *Buffers) Capacity() int { return len(b.positions) }

// Free returns the number of unused particle slots.
func (b *Buffers) Free() int { return len(b.positions) - b.used }

// AddActor reserves one solver slot per particle slot, pooled ones included,
// copies the particle data in and returns the actor-to-solver index map.
func (b *Buffers) AddActor(p *blueprint.Particles) ([]int, error) {
	n := p.Capacity()
	if n > b.Free() {
		return nil, fmt.Errorf("%w: need %d slots, %d free", ErrSolverFull, n, b.Free())
	}
	indices := make([]int, n)
	for i := range indices {
		s := b.used + i
		indices[i] = s
		b.positions[s] = p.Positions[i]
		b.velocities[s] = math.Vec3{}
		b.invMasses[s] = p.InvMasses[i]
		b.radii[s] = p.Radii[i]
	}
	b.used += n
	b.log.Debug("actor added", zap.Int("particles", n), zap.Int("free", b.Free()))
	return indices, nil
}

// Positions returns the particle positions.
func (b *Buffers) Positions() []math.Vec3 { return b.positions }

// InvMasses returns the particle inverse masses.
func (b *Buffers) InvMasses() []float32 { return b.invMasses }

// PrincipalRadii returns the particle collision radii.
func (b *Buffers) PrincipalRadii() []float32 { return b.radii }

// Lambdas returns the multipliers of a constraint batch, indexed like the
// batch. It is nil until the batch has been solved.
func (b *Buffers) Lambdas(kind constraints.Kind, batch int) []float32 {
	return b.lambdas[lambdaKey{kind, batch}]
}

// SetLambdas replaces the multipliers of a constraint batch.
func (b *Buffers) SetLambdas(kind constraints.Kind, batch int, lambdas []float32) {
	b.lambdas[lambdaKey{kind, batch}] = lambdas
}

// CopyParticle copies solver slot src into slot dst.
func (b *Buffers) CopyParticle(src, dst int) {
	b.positions[dst] = b.positions[src]
	b.velocities[dst] = b.velocities[src]
	b.invMasses[dst] = b.invMasses[src]
	b.radii[dst] = b.radii[src]
}

// MarkConstraintsDirty flags the constraint families in mask for re-sync.
func (b *Buffers) MarkConstraintsDirty(mask uint32) {
	b.DirtyConstraints |= mask
}

// MarkDeformableTrianglesDirty flags the deformable triangles for re-sync.
func (b *Buffers) MarkDeformableTrianglesDirty() {
	b.DirtyDeformableTriangles = true
}

// ClearDirty resets both dirty flags after a re-sync.
func (b *Buffers) ClearDirty() {
	b.DirtyConstraints = 0
	b.DirtyDeformableTriangles = false
}

// Stretch scales the positions of the given solver slots along axis by
// factor, keeping the origin fixed.
func (b *Buffers) Stretch(indices []int, axis math.Vec3, factor float32) {
	axis = axis.Normalize()
	for _, s := range indices {
		p := b.positions[s]
		b.positions[s] = p.Add(axis.Scale(p.Dot(axis) * (factor - 1)))
	}
}

// EstimateStretch fills the multipliers of every distance batch from a
// Hookean estimate, so that -lambda/dt² equals stiffness times the
// extension of the constraint. Inactive constraints get zero.
func (b *Buffers) EstimateStretch(indices []int, set *constraints.DistanceSet, dt, stiffness float32) {
	for bi, batch := range set.Batches {
		lambdas := make([]float32, batch.ConstraintCount())
		for i := 0; i < batch.ActiveConstraintCount(); i++ {
			particles := batch.Particles(i)
			length := b.positions[indices[particles[0]]].Distance(b.positions[indices[particles[1]]])
			extension := length - batch.Params[i].RestLength
			lambdas[i] = -stiffness * extension * dt * dt
		}
		b.SetLambdas(constraints.Distance, bi, lambdas)
	}
}
