package blueprint

import (
	"github.com/Faultbox/clothtear/pkg/math"
	"github.com/jinzhu/copier"
)

// DefaultFilter collides with every category and belongs to category 0.
const DefaultFilter uint32 = 0xffff0000

// Color is a linear RGBA particle color.
type Color struct {
	R, G, B, A float32
}

// White is the default particle color.
var White = Color{1, 1, 1, 1}

// Particles is a fixed-capacity particle pool. Slots [0, ActiveCount) are
// active; the rest are a reserve that can be activated without reallocating.
type Particles struct {
	Positions     []math.Vec3
	RestPositions []math.Vec3
	Orientations  []math.Quat
	InvMasses     []float32
	Radii         []float32
	Filters       []uint32
	Colors        []Color
	ActiveCount   int
}

// NewParticles allocates a pool of the given capacity with no active particles.
func NewParticles(capacity int) Particles {
	p := Particles{
		Positions:     make([]math.Vec3, capacity),
		RestPositions: make([]math.Vec3, capacity),
		Orientations:  make([]math.Quat, capacity),
		InvMasses:     make([]float32, capacity),
		Radii:         make([]float32, capacity),
		Filters:       make([]uint32, capacity),
		Colors:        make([]Color, capacity),
	}
	for i := range p.Orientations {
		p.Orientations[i] = math.QuatIdentity()
		p.Filters[i] = DefaultFilter
		p.Colors[i] = White
	}
	return p
}

// Capacity returns the total number of slots.
func (p *Particles) Capacity() int {
	return len(p.Positions)
}

// Pooled returns the number of inactive slots left.
func (p *Particles) Pooled() int {
	return p.Capacity() - p.ActiveCount
}

// Copy copies every per-particle value from slot src to slot dst.
func (p *Particles) Copy(src, dst int) {
	p.Positions[dst] = p.Positions[src]
	p.RestPositions[dst] = p.RestPositions[src]
	p.Orientations[dst] = p.Orientations[src]
	p.InvMasses[dst] = p.InvMasses[src]
	p.Radii[dst] = p.Radii[src]
	p.Filters[dst] = p.Filters[src]
	p.Colors[dst] = p.Colors[src]
}

// ActivateNext activates the first pooled slot and returns its index.
// ok is false when the pool is exhausted.
func (p *Particles) ActivateNext() (index int, ok bool) {
	if p.ActiveCount >= p.Capacity() {
		return -1, false
	}
	p.ActiveCount++
	return p.ActiveCount - 1, true
}

// Clone returns a deep copy of the pool.
func (p *Particles) Clone() (Particles, error) {
	var out Particles
	if err := copier.CopyWithOption(&out, p, copier.Option{DeepCopy: true}); err != nil {
		return Particles{}, err
	}
	return out, nil
}
