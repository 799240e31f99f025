// Package tearing splits cloth at runtime when its distance constraints are
// pulled harder than the cloth can resist.
//
// After the solver has computed the Lagrange multipliers of a substep,
// ApplyTearing turns them into forces, picks the edges that exceed their tear
// resistance and tears them one at a time. Tearing an edge splits one of its
// particles in two: half of the particle's triangles move to a fresh particle
// taken from the blueprint's pool, and the distance constraints around it are
// rewired so the crack opens.
package tearing

import (
	"cmp"
	"errors"
	"fmt"

	"github.com/Faultbox/clothtear/internal/blueprint"
	"github.com/Faultbox/clothtear/internal/logger"
	"github.com/Faultbox/clothtear/pkg/constraints"
	"github.com/Faultbox/clothtear/pkg/math"
	"github.com/Faultbox/clothtear/pkg/topology"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// Load errors.
var (
	ErrNotBuilt         = errors.New("blueprint is not built")
	ErrNotTearable      = errors.New("blueprint has no tearing data")
	ErrSolverIndices    = errors.New("solver index count does not match particle capacity")
	ErrTopologyMismatch = errors.New("topology clusters do not match active particles")
)

// Solver is the solver-side state a tearable cloth reads and writes. All
// particle arrays are indexed by solver index.
type Solver interface {
	Positions() []math.Vec3
	InvMasses() []float32
	PrincipalRadii() []float32
	// Lambdas returns the multipliers of a constraint batch, indexed like
	// the batch, or nil if the batch has not been solved.
	Lambdas(kind constraints.Kind, batch int) []float32
	CopyParticle(src, dst int)
	MarkConstraintsDirty(mask uint32)
	MarkDeformableTrianglesDirty()
}

// StructuralConstraint identifies a distance constraint by batch and stable
// id, together with the force it was under.
type StructuralConstraint struct {
	Batch int
	ID    int
	Force float32
}

// TearEvent describes a completed tear.
type TearEvent struct {
	Edge          StructuralConstraint
	SplitParticle int
	NewParticle   int
	// UpdatedFaces lists, in ascending order, the triangles whose corner
	// moved from SplitParticle to NewParticle.
	UpdatedFaces []int
}

// Observer is notified synchronously after every tear, before the next
// candidate is processed.
type Observer interface {
	OnTorn(TearEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(TearEvent)

// OnTorn calls f(e).
func (f ObserverFunc) OnTorn(e TearEvent) { f(e) }

// TearableCloth is a loaded tearable cloth actor. It owns a private copy of
// its blueprint and is not safe for concurrent use.
type TearableCloth struct {
	bp            *blueprint.TearableClothBlueprint
	solver        Solver
	solverIndices []int
	settings      Settings
	observer      Observer
	log           *zap.Logger

	candidates []StructuralConstraint
}

// Load instantiates a tearable cloth from template. The template is cloned
// and never modified. solverIndices maps every particle slot of the
// blueprint, pooled ones included, to its solver index. observer may be nil.
func Load(template *blueprint.TearableClothBlueprint, solver Solver, solverIndices []int, settings Settings, observer Observer) (*TearableCloth, error) {
	if !template.Built() {
		return nil, ErrNotBuilt
	}
	if !template.Tearable() {
		return nil, ErrNotTearable
	}
	if len(solverIndices) != template.ParticleCount() {
		return nil, fmt.Errorf("%w: %d indices, %d particles", ErrSolverIndices, len(solverIndices), template.ParticleCount())
	}
	if len(template.Topology.Clusters) != template.ActiveParticleCount() {
		return nil, fmt.Errorf("%w: %d clusters, %d particles", ErrTopologyMismatch, len(template.Topology.Clusters), template.ActiveParticleCount())
	}

	bp, err := template.Clone()
	if err != nil {
		return nil, fmt.Errorf("cloning blueprint: %w", err)
	}

	c := &TearableCloth{
		bp:            bp,
		solver:        solver,
		solverIndices: slices.Clone(solverIndices),
		settings:      settings,
		observer:      observer,
		log:           logger.Named("tearing"),
	}
	c.log.Info("tearable cloth loaded",
		zap.Stringer("build_id", bp.BuildID),
		zap.Int("particles", bp.ActiveParticleCount()),
		zap.Int("pooled", bp.Particles.Pooled()),
	)
	return c, nil
}

// Unload releases the cloth's blueprint copy. The cloth must not be used
// afterwards.
func (c *TearableCloth) Unload() {
	c.bp = nil
	c.solver = nil
	c.solverIndices = nil
	c.observer = nil
	c.candidates = nil
}

// Loaded reports whether the cloth still holds its blueprint.
func (c *TearableCloth) Loaded() bool {
	return c.bp != nil
}

// Blueprint returns the cloth's private blueprint.
func (c *TearableCloth) Blueprint() *blueprint.TearableClothBlueprint {
	return c.bp
}

// SolverIndices returns the actor-to-solver particle index map.
func (c *TearableCloth) SolverIndices() []int {
	return c.solverIndices
}

// ActiveParticleCount returns the number of active particles.
func (c *TearableCloth) ActiveParticleCount() int {
	if c.bp == nil {
		return 0
	}
	return c.bp.ActiveParticleCount()
}

// Settings returns the current tearing settings.
func (c *TearableCloth) Settings() Settings {
	return c.settings
}

// SetSettings replaces the tearing settings. It takes effect on the next
// substep.
func (c *TearableCloth) SetSettings(s Settings) {
	c.settings = s
}

// Substep runs the tearing pass for a substep of the given length if
// tearing is enabled, and returns the number of tears. It must be called
// after the solver has produced this substep's multipliers.
func (c *TearableCloth) Substep(substepTime float32) int {
	if !c.settings.TearingEnabled {
		return 0
	}
	return c.ApplyTearing(substepTime)
}

// ApplyTearing tears the distance constraints whose force exceeds their
// resistance and returns the number of tears.
//
// Candidates are torn in ascending order of force, least overloaded first,
// until TearRate tears succeed. Failed attempts do not count.
func (c *TearableCloth) ApplyTearing(substepTime float32) int {
	if c.bp == nil || substepTime <= 0 {
		return 0
	}

	dt2 := substepTime * substepTime
	resistance := c.bp.TearResistance
	c.candidates = c.candidates[:0]
	for bi, batch := range c.bp.Distance.Batches {
		lambdas := c.solver.Lambdas(constraints.Distance, bi)
		n := min(batch.ActiveConstraintCount(), len(lambdas))
		for i := 0; i < n; i++ {
			force := -lambdas[i] / dt2
			p := batch.Particles(i)
			threshold := (resistance[p[0]] + resistance[p[1]]) * 0.5 * c.settings.TearResistanceMultiplier
			if force > threshold {
				c.candidates = append(c.candidates, StructuralConstraint{
					Batch: bi,
					ID:    batch.ConstraintID(i),
					Force: force,
				})
			}
		}
	}
	slices.SortStableFunc(c.candidates, func(a, b StructuralConstraint) int {
		return cmp.Compare(a.Force, b.Force)
	})

	torn := 0
	for _, edge := range c.candidates {
		if torn >= c.settings.TearRate {
			break
		}
		if c.Tear(edge) {
			torn++
		}
	}

	if torn > 0 {
		c.markDirty()
		c.log.Debug("tearing pass",
			zap.Int("candidates", len(c.candidates)),
			zap.Int("torn", torn),
			zap.Int("pooled", c.bp.Particles.Pooled()),
		)
	}
	return torn
}

func (c *TearableCloth) markDirty() {
	c.solver.MarkConstraintsDirty(constraints.Distance.Mask() | constraints.Bend.Mask())
	c.solver.MarkDeformableTrianglesDirty()
}

func (c *TearableCloth) position(particle int) math.Vec3 {
	return c.solver.Positions()[c.solverIndices[particle]]
}

func (c *TearableCloth) invMass(particle int) float32 {
	return c.solver.InvMasses()[c.solverIndices[particle]]
}

// cut is a validated split: the particle to split, the plane through it and
// the triangles that will move to the new particle.
type cut struct {
	particle int
	plane    math.Plane
	moved    []int
}

// cutAt tries to split particle with a plane facing towards. It fails for
// pinned particles and for planes that leave every incident triangle on one
// side.
func (c *TearableCloth) cutAt(particle, towards int) (cut, bool) {
	if c.invMass(particle) == 0 {
		return cut{}, false
	}
	origin := c.position(particle)
	plane, ok := math.NewPlane(origin, c.position(towards).Sub(origin))
	if !ok {
		return cut{}, false
	}
	front, _, ok := c.bp.Topology.Classify(particle, plane, c.position)
	if !ok {
		return cut{}, false
	}
	return cut{particle: particle, plane: plane, moved: front}, true
}

// Tear splits the cloth at one end of edge. The lighter endpoint is tried
// first and the other one if it cannot be split. It returns false, leaving
// every structure untouched, when the pool is exhausted or neither endpoint
// can be split.
func (c *TearableCloth) Tear(edge StructuralConstraint) bool {
	bp := c.bp
	if bp == nil || bp.ActiveParticleCount() >= bp.ParticleCount() {
		return false
	}
	batch, index, ok := bp.Distance.Lookup(constraints.Handle{Batch: edge.Batch, ID: edge.ID})
	if !ok {
		return false
	}
	p := batch.Particles(index)
	first, second := p[0], p[1]
	if c.invMass(second) > c.invMass(first) {
		first, second = second, first
	}

	x, ok := c.cutAt(first, second)
	if !ok {
		if x, ok = c.cutAt(second, first); !ok {
			return false
		}
	}

	weakened := c.crackTip(x)

	newParticle := bp.ActiveParticleCount()
	if cluster, ok := bp.Topology.SplitCluster(x.moved, x.particle); !ok || cluster != newParticle {
		c.log.Error("topology split failed",
			zap.Int("particle", x.particle),
			zap.Int("cluster", cluster),
			zap.Int("expected", newParticle),
		)
		return false
	}

	for _, n := range weakened {
		bp.TearResistance[n] *= 1 - c.settings.TearDebilitation
	}

	c.splitParticle(x.particle)
	c.rewire(x.particle, newParticle, x.moved)
	c.disableBends(x.particle)
	c.markDirty()

	c.log.Debug("torn",
		zap.Int("batch", edge.Batch),
		zap.Int("id", edge.ID),
		zap.Float32("force", edge.Force),
		zap.Int("split", x.particle),
		zap.Int("new", newParticle),
		zap.Ints("faces", x.moved),
	)
	if c.observer != nil {
		c.observer.OnTorn(TearEvent{
			Edge:          edge,
			SplitParticle: x.particle,
			NewParticle:   newParticle,
			UpdatedFaces:  x.moved,
		})
	}
	return true
}

// crackTip returns up to two neighbours of the split particle lying closest
// to the cutting plane, where the crack is most likely to continue. Ties go
// to the lower particle index.
func (c *TearableCloth) crackTip(x cut) []int {
	origin := c.position(x.particle)
	tip := [2]int{topology.None, topology.None}
	best := [2]float32{}
	for _, n := range c.bp.Topology.Neighbours(x.particle) {
		d := math.Abs(x.plane.Normal.Dot(c.position(n).Sub(origin).Normalize()))
		switch {
		case tip[0] == topology.None || d < best[0]:
			tip[1], best[1] = tip[0], best[0]
			tip[0], best[0] = n, d
		case tip[1] == topology.None || d < best[1]:
			tip[1], best[1] = n, d
		}
	}
	out := make([]int, 0, 2)
	for _, n := range tip {
		if n != topology.None {
			out = append(out, n)
		}
	}
	return out
}

// splitParticle halves the mass and radius of particle in both the solver
// and the blueprint, and copies it into the next pooled slot.
func (c *TearableCloth) splitParticle(particle int) {
	bp := c.bp
	s := c.solverIndices[particle]
	c.solver.InvMasses()[s] *= 2
	c.solver.PrincipalRadii()[s] *= 0.5
	bp.Particles.InvMasses[particle] *= 2
	bp.Particles.Radii[particle] *= 0.5

	newParticle, _ := bp.Particles.ActivateNext()
	bp.CopyParticle(particle, newParticle)
	c.solver.CopyParticle(s, c.solverIndices[newParticle])
}

// rewire points the distance constraints of the moved triangles at the new
// particle and activates the constraints of every edge the split opened.
// Edges that stay shared keep their single active constraint.
func (c *TearableCloth) rewire(original, newParticle int, moved []int) {
	mesh := c.bp.Topology
	for _, h := range mesh.HalfEdgesAround(newParticle, moved) {
		batch, index, ok := c.bp.Distance.Lookup(c.bp.DistanceConstraintMap[h])
		if !ok {
			continue
		}
		batch.SetParticles(index, mesh.Origin(h), mesh.End(h))
		if mesh.Pair(h) == topology.None {
			batch.Activate(index)
		}
	}

	for _, h := range mesh.HalfEdgesAround(original, mesh.IncidentFaces(original)) {
		if mesh.Pair(h) != topology.None {
			continue
		}
		if batch, index, ok := c.bp.Distance.Lookup(c.bp.DistanceConstraintMap[h]); ok {
			batch.Activate(index)
		}
	}
}

// disableBends deactivates every bend constraint involving particle.
func (c *TearableCloth) disableBends(particle int) {
	for _, batch := range c.bp.Bend.Batches {
		for i := 0; i < batch.ActiveConstraintCount(); {
			if batch.References(i, particle) {
				batch.Deactivate(i)
				continue
			}
			i++
		}
	}
}
