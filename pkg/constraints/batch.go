package constraints

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

// Batch errors.
var (
	ErrBatchFull = errors.New("constraint batch is full")
	ErrArity     = errors.New("wrong number of particles for constraint kind")
)

// Batch is a fixed-capacity sequence of constraints of one kind.
// Constraints [0, ActiveConstraintCount()) are active.
type Batch[P any] struct {
	kind Kind

	// ParticleIndices holds Arity() particle indices per constraint.
	ParticleIndices []int
	// Params holds the per-constraint parameters.
	Params []P

	ids         []int // index -> id
	idToIndex   []int // id -> index
	activeCount int
	capacity    int
}

// Distance, bend and tether batches.
type (
	DistanceBatch = Batch[DistanceParams]
	BendBatch     = Batch[BendParams]
	TetherBatch   = Batch[TetherParams]
)

// NewBatch returns an empty batch able to hold capacity constraints.
func NewBatch[P any](kind Kind, capacity int) *Batch[P] {
	return &Batch[P]{
		kind:            kind,
		ParticleIndices: make([]int, 0, capacity*kind.Arity()),
		Params:          make([]P, 0, capacity),
		ids:             make([]int, 0, capacity),
		idToIndex:       make([]int, 0, capacity),
		capacity:        capacity,
	}
}

// Kind returns the constraint family.
func (b *Batch[P]) Kind() Kind { return b.kind }

// Capacity returns the maximum number of constraints.
func (b *Batch[P]) Capacity() int { return b.capacity }

// ConstraintCount returns the number of constraints, active or not.
func (b *Batch[P]) ConstraintCount() int { return len(b.ids) }

// ActiveConstraintCount returns the number of active constraints.
func (b *Batch[P]) ActiveConstraintCount() int { return b.activeCount }

// Add appends an inactive constraint and returns its id.
func (b *Batch[P]) Add(params P, particles ...int) (int, error) {
	if len(particles) != b.kind.Arity() {
		return -1, fmt.Errorf("%w: %s wants %d, got %d", ErrArity, b.kind, b.kind.Arity(), len(particles))
	}
	if len(b.ids) >= b.capacity {
		return -1, ErrBatchFull
	}
	id := len(b.idToIndex)
	b.ParticleIndices = append(b.ParticleIndices, particles...)
	b.Params = append(b.Params, params)
	b.ids = append(b.ids, id)
	b.idToIndex = append(b.idToIndex, len(b.ids)-1)
	return id, nil
}

// Particles returns the particles of the constraint at index. The slice
// aliases the batch storage.
func (b *Batch[P]) Particles(index int) []int {
	n := b.kind.Arity()
	return b.ParticleIndices[index*n : index*n+n]
}

// SetParticles overwrites the particles of the constraint at index.
func (b *Batch[P]) SetParticles(index int, particles ...int) {
	copy(b.Particles(index), particles)
}

// References reports whether the constraint at index involves particle p.
func (b *Batch[P]) References(index, p int) bool {
	return slices.Contains(b.Particles(index), p)
}

// ConstraintIndex returns the current index of the constraint with the given
// id, or -1.
func (b *Batch[P]) ConstraintIndex(id int) int {
	if id < 0 || id >= len(b.idToIndex) {
		return -1
	}
	return b.idToIndex[id]
}

// ConstraintID returns the stable id of the constraint at index.
func (b *Batch[P]) ConstraintID(index int) int {
	return b.ids[index]
}

// IsActive reports whether the constraint at index is active.
func (b *Batch[P]) IsActive(index int) bool {
	return index < b.activeCount
}

// Activate makes the constraint at index active. It returns false if it
// already was.
func (b *Batch[P]) Activate(index int) bool {
	if index < b.activeCount || index >= len(b.ids) {
		return false
	}
	b.swap(index, b.activeCount)
	b.activeCount++
	return true
}

// Deactivate makes the constraint at index inactive by swapping it to the
// tail of the active range. It returns false if it already was inactive.
func (b *Batch[P]) Deactivate(index int) bool {
	if index < 0 || index >= b.activeCount {
		return false
	}
	b.activeCount--
	b.swap(index, b.activeCount)
	return true
}

// ActivateAll marks every constraint active.
func (b *Batch[P]) ActivateAll() {
	b.activeCount = len(b.ids)
}

func (b *Batch[P]) swap(i, j int) {
	if i == j {
		return
	}
	n := b.kind.Arity()
	for k := 0; k < n; k++ {
		b.ParticleIndices[i*n+k], b.ParticleIndices[j*n+k] = b.ParticleIndices[j*n+k], b.ParticleIndices[i*n+k]
	}
	b.Params[i], b.Params[j] = b.Params[j], b.Params[i]
	b.ids[i], b.ids[j] = b.ids[j], b.ids[i]
	b.idToIndex[b.ids[i]] = i
	b.idToIndex[b.ids[j]] = j
}

// Clone returns a deep copy of the batch.
func (b *Batch[P]) Clone() *Batch[P] {
	out := NewBatch[P](b.kind, b.capacity)
	out.ParticleIndices = append(out.ParticleIndices, b.ParticleIndices...)
	out.Params = append(out.Params, b.Params...)
	out.ids = append(out.ids, b.ids...)
	out.idToIndex = append(out.idToIndex, b.idToIndex...)
	out.activeCount = b.activeCount
	return out
}

// IDs returns the stable id of every constraint in index order.
func (b *Batch[P]) IDs() []int {
	return slices.Clone(b.ids)
}

// Restore rebuilds a batch from encoded state: particles and params in index
// order, the id of each index, and the active count.
func Restore[P any](kind Kind, capacity int, particles []int, params []P, ids []int, active int) (*Batch[P], error) {
	n := len(params)
	if len(particles) != n*kind.Arity() || len(ids) != n || n > capacity || active < 0 || active > n {
		return nil, fmt.Errorf("%w: inconsistent %s batch", ErrArity, kind)
	}
	b := NewBatch[P](kind, capacity)
	b.ParticleIndices = append(b.ParticleIndices, particles...)
	b.Params = append(b.Params, params...)
	b.ids = append(b.ids, ids...)
	b.idToIndex = make([]int, n)
	seen := make([]bool, n)
	for index, id := range ids {
		if id < 0 || id >= n || seen[id] {
			return nil, fmt.Errorf("%w: bad constraint id %d", ErrArity, id)
		}
		seen[id] = true
		b.idToIndex[id] = index
	}
	b.activeCount = active
	return b, nil
}
