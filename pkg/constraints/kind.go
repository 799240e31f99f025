// Package constraints stores particle constraints in fixed-capacity batches.
//
// Every batch keeps its active constraints packed at the front. Activating or
// deactivating a constraint swaps it across the active watermark in O(1),
// so positions inside a batch change over time. Each constraint also has a
// stable id that survives those swaps and can be used as a long-lived
// reference.
package constraints

import "fmt"

// Kind identifies a constraint family.
type Kind int

// Constraint families.
const (
	Distance Kind = iota
	Bend
	Tether

	KindCount
)

// String returns the family name.
func (k Kind) String() string {
	switch k {
	case Distance:
		return "Distance"
	case Bend:
		return "Bend"
	case Tether:
		return "Tether"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Arity returns how many particles a constraint of this family references.
func (k Kind) Arity() int {
	switch k {
	case Bend:
		return 3
	default:
		return 2
	}
}

// Mask returns the bit for k in a dirty-constraints bitmask.
func (k Kind) Mask() uint32 {
	return 1 << uint(k)
}

// DistanceParams holds the parameters of a stretch constraint.
type DistanceParams struct {
	RestLength     float32
	Compliance     float32
	MaxCompression float32
}

// BendParams holds the parameters of a bend constraint over particles
// (a, b, center).
type BendParams struct {
	RestBend   float32
	Compliance float32
	MaxBending float32
}

// TetherParams holds the parameters of a tether from a free particle to an
// anchor.
type TetherParams struct {
	MaxLength  float32
	Scale      float32
	Compliance float32
}

// Handle references a constraint by batch and stable id.
type Handle struct {
	Batch int
	ID    int
}

// NoHandle marks the absence of a constraint.
var NoHandle = Handle{Batch: -1, ID: -1}

// Valid reports whether h references a constraint.
func (h Handle) Valid() bool {
	return h.Batch >= 0 && h.ID >= 0
}
