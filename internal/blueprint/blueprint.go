// Package blueprint builds the simulation-ready description of a cloth:
// particles, half-edge topology and graph-colored constraint batches.
//
// A blueprint is built once, progressively, from a source mesh. Tearable
// blueprints additionally reserve a pool of inactive particles and map every
// half-edge to its own distance constraint so that tearing can rewire the
// cloth in place.
package blueprint

import (
	"errors"
	"fmt"

	"github.com/Faultbox/clothtear/internal/config"
	"github.com/Faultbox/clothtear/pkg/constraints"
	"github.com/Faultbox/clothtear/pkg/topology"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Build errors.
var (
	ErrMissingMesh    = errors.New("source mesh is missing")
	ErrEmptyMesh      = errors.New("source mesh has no triangles")
	ErrInvalidIndices = errors.New("source mesh has invalid triangle indices")
	ErrNotBuilt       = errors.New("blueprint build is not complete")
	ErrWrongKind      = errors.New("builder output does not match blueprint kind")
)

// Options controls blueprint generation.
type Options struct {
	WeldDistance       float32
	TearCapacity       float32 // fraction of the maximum extra particles to reserve
	ParticleMass       float32 // mass per unit of area
	TearResistance     float32
	DistanceCompliance float32
	BendCompliance     float32
	MaxBending         float32
}

// DefaultOptions returns the options matching config.Default().
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Build)
}

// OptionsFromConfig converts build settings into Options.
func OptionsFromConfig(c config.BuildConfig) Options {
	return Options{
		WeldDistance:       c.WeldDistance,
		TearCapacity:       c.TearCapacity,
		ParticleMass:       c.ParticleMass,
		TearResistance:     c.TearResistance,
		DistanceCompliance: c.DistanceCompliance,
		BendCompliance:     c.BendCompliance,
		MaxBending:         c.MaxBending,
	}
}

// ClothBlueprint is a built cloth.
type ClothBlueprint struct {
	// BuildID identifies the build that produced this blueprint. It is
	// uuid.Nil until a build has been committed.
	BuildID uuid.UUID

	Particles Particles
	Topology  *topology.Mesh
	// VertexToParticle maps every source-mesh vertex to its particle.
	VertexToParticle []int

	Distance *constraints.DistanceSet
	Bend     *constraints.BendSet
	Tethers  *constraints.TetherSet
}

// Built reports whether a build has been committed to the blueprint.
func (b *ClothBlueprint) Built() bool {
	return b.BuildID != uuid.Nil
}

// ParticleCount returns the particle capacity, pooled slots included.
func (b *ClothBlueprint) ParticleCount() int {
	return b.Particles.Capacity()
}

// ActiveParticleCount returns the number of active particles.
func (b *ClothBlueprint) ActiveParticleCount() int {
	return b.Particles.ActiveCount
}

// TriangleCount returns the number of topology triangles.
func (b *ClothBlueprint) TriangleCount() int {
	if b.Topology == nil {
		return 0
	}
	return len(b.Topology.Triangles)
}

func (b *ClothBlueprint) clone() (ClothBlueprint, error) {
	particles, err := b.Particles.Clone()
	if err != nil {
		return ClothBlueprint{}, fmt.Errorf("cloning particles: %w", err)
	}
	out := ClothBlueprint{
		BuildID:          b.BuildID,
		Particles:        particles,
		VertexToParticle: slices.Clone(b.VertexToParticle),
	}
	if b.Topology != nil {
		out.Topology = b.Topology.Clone()
	}
	if b.Distance != nil {
		out.Distance = b.Distance.Clone()
	}
	if b.Bend != nil {
		out.Bend = b.Bend.Clone()
	}
	if b.Tethers != nil {
		out.Tethers = b.Tethers.Clone()
	}
	return out, nil
}

// Clone returns a deep copy of the blueprint.
func (b *ClothBlueprint) Clone() (*ClothBlueprint, error) {
	out, err := b.clone()
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// TearableClothBlueprint is a cloth blueprint prepared for tearing.
type TearableClothBlueprint struct {
	ClothBlueprint

	TearCapacity    float32
	PooledParticles int
	// TearResistance holds the per-particle tear threshold before the
	// actor's multiplier is applied.
	TearResistance []float32
	// DistanceConstraintMap maps every half-edge to its distance constraint.
	DistanceConstraintMap []constraints.Handle
}

// Tearable reports whether the blueprint carries tearing data. Plain cloth
// blueprints decoded from disk do not.
func (t *TearableClothBlueprint) Tearable() bool {
	return t.DistanceConstraintMap != nil
}

// CopyParticle copies every per-particle value, tear resistance included,
// from slot src to slot dst.
func (t *TearableClothBlueprint) CopyParticle(src, dst int) {
	t.Particles.Copy(src, dst)
	t.TearResistance[dst] = t.TearResistance[src]
}

// Clone returns a deep copy of the blueprint. Tearing actors work on a clone
// so the shared template is never mutated.
func (t *TearableClothBlueprint) Clone() (*TearableClothBlueprint, error) {
	base, err := t.clone()
	if err != nil {
		return nil, err
	}
	return &TearableClothBlueprint{
		ClothBlueprint:        base,
		TearCapacity:          t.TearCapacity,
		PooledParticles:       t.PooledParticles,
		TearResistance:        slices.Clone(t.TearResistance),
		DistanceConstraintMap: slices.Clone(t.DistanceConstraintMap),
	}, nil
}
