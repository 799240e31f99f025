// Package coloring assigns constraints to conflict-free colors so that every
// color can be projected in parallel.
//
// Two constraints conflict when they share a particle. Colors are assigned
// greedily in insertion order: each constraint takes the lowest color not yet
// used by any earlier constraint touching one of its particles.
package coloring

import (
	"context"
	"math/bits"
)

// progressInterval is how many constraints Colorize processes between reports.
const progressInterval = 1024

// Progress describes how far a colorization has advanced.
type Progress struct {
	Description string
	Fraction    float32
}

// ProgressFunc receives progress reports. It may be nil.
type ProgressFunc func(Progress)

// Graph accumulates constraints to be colored.
type Graph struct {
	// ParticleIndices holds the participants of every constraint, flattened.
	ParticleIndices []int
	// ConstraintIndices holds the start offset of each constraint in
	// ParticleIndices, followed by a final end offset.
	ConstraintIndices []int
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{ConstraintIndices: []int{0}}
}

// AddConstraint appends a constraint touching the given particles.
func (g *Graph) AddConstraint(participants ...int) {
	if len(g.ConstraintIndices) == 0 {
		g.ConstraintIndices = append(g.ConstraintIndices, 0)
	}
	g.ParticleIndices = append(g.ParticleIndices, participants...)
	g.ConstraintIndices = append(g.ConstraintIndices, len(g.ParticleIndices))
}

// Clear removes all constraints.
func (g *Graph) Clear() {
	g.ParticleIndices = g.ParticleIndices[:0]
	g.ConstraintIndices = append(g.ConstraintIndices[:0], 0)
}

// ConstraintCount returns the number of constraints added so far.
func (g *Graph) ConstraintCount() int {
	if len(g.ConstraintIndices) == 0 {
		return 0
	}
	return len(g.ConstraintIndices) - 1
}

// Participants returns the particles of constraint i.
func (g *Graph) Participants(i int) []int {
	return g.ParticleIndices[g.ConstraintIndices[i]:g.ConstraintIndices[i+1]]
}

// Colorize colors every constraint and returns the colors in insertion order.
// It reports progress every few thousand constraints and stops early with
// ctx.Err() if ctx is cancelled.
func (g *Graph) Colorize(ctx context.Context, description string, report ProgressFunc) ([]int, error) {
	c := g.Begin(description)
	for !c.Done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.Step(progressInterval)
		if report != nil {
			report(c.Progress())
		}
	}
	return c.Colors(), nil
}

// Begin starts a resumable colorization of the current graph contents.
// The graph must not be modified until the colorization is done.
func (g *Graph) Begin(description string) *Colorization {
	n := g.ConstraintCount()
	return &Colorization{
		graph:       g,
		description: description,
		colors:      make([]int, n),
		used:        make(map[int]colorSet),
	}
}

// Colorization is an in-progress greedy coloring that can be advanced a
// bounded amount at a time, so a host loop can interleave it with other work.
type Colorization struct {
	graph       *Graph
	description string
	next        int
	colors      []int
	used        map[int]colorSet
}

// Step colors up to budget more constraints and reports whether the
// colorization is complete.
func (c *Colorization) Step(budget int) bool {
	end := min(c.next+budget, len(c.colors))
	var conflicts colorSet
	for ; c.next < end; c.next++ {
		conflicts = conflicts[:0]
		participants := c.graph.Participants(c.next)
		for _, p := range participants {
			conflicts = conflicts.union(c.used[p])
		}
		color := conflicts.lowestFree()
		c.colors[c.next] = color
		for _, p := range participants {
			c.used[p] = c.used[p].with(color)
		}
	}
	return c.Done()
}

// Done reports whether every constraint has been colored.
func (c *Colorization) Done() bool {
	return c.next >= len(c.colors)
}

// Progress returns the current progress.
func (c *Colorization) Progress() Progress {
	p := Progress{Description: c.description, Fraction: 1}
	if len(c.colors) > 0 {
		p.Fraction = float32(c.next) / float32(len(c.colors))
	}
	return p
}

// Colors returns the colors assigned so far, indexed by constraint.
// Entries past the current position are zero.
func (c *Colorization) Colors() []int {
	return c.colors
}

// ColorCount returns the number of distinct colors used, assuming colors are
// dense starting at zero.
func ColorCount(colors []int) int {
	n := 0
	for _, c := range colors {
		n = max(n, c+1)
	}
	return n
}

// colorSet is a bitset of colors.
type colorSet []uint64

func (s colorSet) union(o colorSet) colorSet {
	for len(s) < len(o) {
		s = append(s, 0)
	}
	for i, w := range o {
		s[i] |= w
	}
	return s
}

func (s colorSet) with(color int) colorSet {
	word := color / 64
	for len(s) <= word {
		s = append(s, 0)
	}
	s[word] |= 1 << (color % 64)
	return s
}

func (s colorSet) lowestFree() int {
	for i, w := range s {
		if w != ^uint64(0) {
			return i*64 + bits.TrailingZeros64(^w)
		}
	}
	return len(s) * 64
}
