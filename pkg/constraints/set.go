package constraints

import "golang.org/x/exp/slices"

// Set holds all batches of one constraint family.
type Set[P any] struct {
	Kind    Kind
	Batches []*Batch[P]
}

// Distance, bend and tether sets.
type (
	DistanceSet = Set[DistanceParams]
	BendSet     = Set[BendParams]
	TetherSet   = Set[TetherParams]
)

// NewSet returns an empty set.
func NewSet[P any](kind Kind) *Set[P] {
	return &Set[P]{Kind: kind}
}

// AddBatch appends a batch and returns its index.
func (s *Set[P]) AddBatch(b *Batch[P]) int {
	s.Batches = append(s.Batches, b)
	return len(s.Batches) - 1
}

// Clear removes all batches.
func (s *Set[P]) Clear() {
	s.Batches = nil
}

// ConstraintCount returns the number of constraints in all batches.
func (s *Set[P]) ConstraintCount() int {
	n := 0
	for _, b := range s.Batches {
		n += b.ConstraintCount()
	}
	return n
}

// ActiveConstraintCount returns the number of active constraints in all batches.
func (s *Set[P]) ActiveConstraintCount() int {
	n := 0
	for _, b := range s.Batches {
		n += b.ActiveConstraintCount()
	}
	return n
}

// Lookup resolves a handle to its batch and current index.
func (s *Set[P]) Lookup(h Handle) (*Batch[P], int, bool) {
	if !h.Valid() || h.Batch >= len(s.Batches) {
		return nil, -1, false
	}
	b := s.Batches[h.Batch]
	index := b.ConstraintIndex(h.ID)
	return b, index, index >= 0
}

// Clone returns a deep copy of the set.
func (s *Set[P]) Clone() *Set[P] {
	out := &Set[P]{Kind: s.Kind, Batches: slices.Clone(s.Batches)}
	for i, b := range out.Batches {
		out.Batches[i] = b.Clone()
	}
	return out
}
