package blueprint

import (
	"context"
	"fmt"

	"github.com/Faultbox/clothtear/pkg/coloring"
	"github.com/Faultbox/clothtear/pkg/constraints"
	"github.com/Faultbox/clothtear/pkg/topology"
)

// Pin makes the given particles immovable.
func (b *ClothBlueprint) Pin(particles ...int) {
	for _, p := range particles {
		b.Particles.InvMasses[p] = 0
	}
}

// GenerateTethers replaces the tether constraints with one tether per free
// particle, anchored to the closest pinned particle at rest. Ties go to the
// lowest anchor index. Nothing is generated when no particle is pinned.
func (b *ClothBlueprint) GenerateTethers(ctx context.Context, scale, compliance float32) error {
	if !b.Built() {
		return ErrNotBuilt
	}
	b.ClearTethers()

	p := &b.Particles
	var anchors []int
	for i := 0; i < p.ActiveCount; i++ {
		if p.InvMasses[i] == 0 {
			anchors = append(anchors, i)
		}
	}
	if len(anchors) == 0 {
		return nil
	}

	type tether struct {
		free, anchor int
		length       float32
	}
	var tethers []tether
	graph := coloring.NewGraph()
	for i := 0; i < p.ActiveCount; i++ {
		if p.InvMasses[i] == 0 {
			continue
		}
		best, bestDist := topology.None, float32(0)
		for _, a := range anchors {
			d := p.RestPositions[i].Distance(p.RestPositions[a])
			if best == topology.None || d < bestDist {
				best, bestDist = a, d
			}
		}
		tethers = append(tethers, tether{free: i, anchor: best, length: bestDist})
		// Anchors never move, so only the free particle can conflict.
		graph.AddConstraint(i)
	}

	colors, err := graph.Colorize(ctx, "Coloring tether constraints", nil)
	if err != nil {
		return err
	}

	b.Tethers = newBatches[constraints.TetherParams](constraints.Tether, colors)
	for i, t := range tethers {
		batch := b.Tethers.Batches[colors[i]]
		params := constraints.TetherParams{MaxLength: t.length, Scale: scale, Compliance: compliance}
		id, err := batch.Add(params, t.free, t.anchor)
		if err != nil {
			return fmt.Errorf("batching tether %d: %w", i, err)
		}
		batch.Activate(batch.ConstraintIndex(id))
	}
	return nil
}

// ClearTethers removes every tether constraint.
func (b *ClothBlueprint) ClearTethers() {
	if b.Tethers == nil {
		b.Tethers = constraints.NewSet[constraints.TetherParams](constraints.Tether)
		return
	}
	b.Tethers.Clear()
}
