package blueprint

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Faultbox/clothtear/pkg/constraints"
	"github.com/Faultbox/clothtear/pkg/math"
	"github.com/Faultbox/clothtear/pkg/topology"
)

// Blueprint file errors.
var (
	ErrInvalidMagic       = errors.New("invalid blueprint magic: expected 'OTCB'")
	ErrUnsupportedVersion = errors.New("unsupported blueprint version")
	ErrTruncated          = errors.New("truncated blueprint data")
	ErrCorrupt            = errors.New("inconsistent blueprint data")
)

const (
	codecMagic   = "OTCB"
	codecVersion = 1

	flagTearable = 1 << 0

	// maxCount bounds every length prefix so corrupt files fail fast
	// instead of allocating.
	maxCount = 1 << 26
)

// Encode writes a plain blueprint.
func Encode(w io.Writer, bp *ClothBlueprint) error {
	return encode(w, &TearableClothBlueprint{ClothBlueprint: *bp})
}

// EncodeTearable writes a tearable blueprint with its tearing data.
func EncodeTearable(w io.Writer, bp *TearableClothBlueprint) error {
	return encode(w, bp)
}

func encode(w io.Writer, bp *TearableClothBlueprint) error {
	if !bp.Built() {
		return ErrNotBuilt
	}

	bw := bufio.NewWriter(w)
	e := &encoder{w: bw}

	var flags uint8
	if bp.Tearable() {
		flags |= flagTearable
	}
	e.write([]byte(codecMagic))
	e.write(uint16(codecVersion))
	e.write(flags)
	e.write(bp.BuildID)

	p := &bp.Particles
	e.count(p.Capacity())
	e.count(p.ActiveCount)
	e.write(p.Positions)
	e.write(p.RestPositions)
	e.write(p.Orientations)
	e.write(p.InvMasses)
	e.write(p.Radii)
	e.write(p.Filters)
	e.write(p.Colors)
	e.ints(bp.VertexToParticle)

	mesh := bp.Topology
	positions := make([]math.Vec3, len(mesh.Clusters))
	for i, c := range mesh.Clusters {
		positions[i] = c.Position
	}
	corners := make([]int, 0, len(mesh.Triangles)*3)
	for _, t := range mesh.Triangles {
		corners = append(corners, t.Corners[:]...)
	}
	e.count(len(positions))
	e.write(positions)
	e.ints(corners)
	e.ints(mesh.Pairs)

	encodeSet(e, bp.Distance)
	encodeSet(e, bp.Bend)
	encodeSet(e, bp.Tethers)

	if bp.Tearable() {
		e.write(bp.TearCapacity)
		e.count(bp.PooledParticles)
		e.write(bp.TearResistance)
		e.count(len(bp.DistanceConstraintMap))
		for _, h := range bp.DistanceConstraintMap {
			e.write([2]int32{int32(h.Batch), int32(h.ID)})
		}
	}

	if e.err != nil {
		return fmt.Errorf("encoding blueprint: %w", e.err)
	}
	return bw.Flush()
}

func encodeSet[P any](e *encoder, s *constraints.Set[P]) {
	if s == nil {
		e.count(0)
		return
	}
	e.count(len(s.Batches))
	for _, b := range s.Batches {
		n := b.ConstraintCount()
		e.count(b.Capacity())
		e.count(n)
		e.count(b.ActiveConstraintCount())
		e.ints(b.IDs())
		e.ints(b.ParticleIndices)
		e.write(b.Params)
	}
}

// Decode reads a blueprint written by Encode or EncodeTearable. Plain
// blueprints decode with Tearable() false.
func Decode(r io.Reader) (*TearableClothBlueprint, error) {
	d := &decoder{r: bufio.NewReader(r)}

	magic := make([]byte, 4)
	d.read(magic)
	if d.err != nil {
		return nil, d.err
	}
	if string(magic) != codecMagic {
		return nil, ErrInvalidMagic
	}
	var version uint16
	var flags uint8
	d.read(&version)
	d.read(&flags)
	if d.err != nil {
		return nil, d.err
	}
	if version != codecVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	bp := &TearableClothBlueprint{}
	d.read(&bp.BuildID)

	capacity := d.count()
	active := d.count()
	if d.err != nil {
		return nil, d.err
	}
	if active > capacity {
		return nil, fmt.Errorf("%w: %d active of %d particles", ErrCorrupt, active, capacity)
	}
	p := NewParticles(capacity)
	d.read(p.Positions)
	d.read(p.RestPositions)
	d.read(p.Orientations)
	d.read(p.InvMasses)
	d.read(p.Radii)
	d.read(p.Filters)
	d.read(p.Colors)
	p.ActiveCount = active
	bp.Particles = p
	bp.VertexToParticle = d.ints()

	positions := make([]math.Vec3, d.count())
	d.read(positions)
	corners := d.ints()
	pairs := d.ints()
	if d.err != nil {
		return nil, d.err
	}
	if len(corners)%3 != 0 {
		return nil, fmt.Errorf("%w: %d triangle corners", ErrCorrupt, len(corners))
	}
	tris := make([][3]int, len(corners)/3)
	for i := range tris {
		tris[i] = [3]int{corners[i*3], corners[i*3+1], corners[i*3+2]}
	}
	mesh, err := topology.Restore(positions, tris, pairs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	bp.Topology = mesh

	if len(mesh.Clusters) != active {
		return nil, fmt.Errorf("%w: %d clusters for %d active particles", ErrCorrupt, len(mesh.Clusters), active)
	}
	for v, particle := range bp.VertexToParticle {
		if particle < 0 || particle >= active {
			return nil, fmt.Errorf("%w: vertex %d maps to particle %d", ErrCorrupt, v, particle)
		}
	}

	bp.Distance = decodeSet[constraints.DistanceParams](d, constraints.Distance)
	bp.Bend = decodeSet[constraints.BendParams](d, constraints.Bend)
	bp.Tethers = decodeSet[constraints.TetherParams](d, constraints.Tether)
	if d.err == nil {
		d.fail(checkParticles(bp.Distance, capacity))
		d.fail(checkParticles(bp.Bend, capacity))
		d.fail(checkParticles(bp.Tethers, capacity))
	}

	if flags&flagTearable != 0 {
		d.read(&bp.TearCapacity)
		bp.PooledParticles = d.count()
		bp.TearResistance = make([]float32, capacity)
		d.read(bp.TearResistance)
		n := d.count()
		if d.err == nil && n != mesh.HalfEdgeCount() {
			return nil, fmt.Errorf("%w: %d map entries for %d half-edges", ErrCorrupt, n, mesh.HalfEdgeCount())
		}
		bp.DistanceConstraintMap = make([]constraints.Handle, n)
		for i := range bp.DistanceConstraintMap {
			var h [2]int32
			d.read(&h)
			handle := constraints.Handle{Batch: int(h[0]), ID: int(h[1])}
			if _, _, ok := bp.Distance.Lookup(handle); d.err == nil && !ok {
				return nil, fmt.Errorf("%w: half-edge %d maps to missing constraint %v", ErrCorrupt, i, handle)
			}
			bp.DistanceConstraintMap[i] = handle
		}
	}

	if d.err != nil {
		return nil, d.err
	}
	return bp, nil
}

func decodeSet[P any](d *decoder, kind constraints.Kind) *constraints.Set[P] {
	set := constraints.NewSet[P](kind)
	batches := d.count()
	for i := 0; i < batches && d.err == nil; i++ {
		capacity := d.count()
		n := d.count()
		active := d.count()
		ids := d.ints()
		particles := d.ints()
		if d.err != nil || n > capacity {
			d.fail(fmt.Errorf("%w: %s batch %d holds %d of %d", ErrCorrupt, kind, i, n, capacity))
			return set
		}
		params := make([]P, n)
		d.read(params)
		if d.err != nil {
			return set
		}
		b, err := constraints.Restore(kind, capacity, particles, params, ids, active)
		if err != nil {
			d.fail(fmt.Errorf("%w: %v", ErrCorrupt, err))
			return set
		}
		set.AddBatch(b)
	}
	return set
}

// checkParticles rejects constraints referencing particles outside the pool.
func checkParticles[P any](s *constraints.Set[P], capacity int) error {
	for bi, b := range s.Batches {
		for _, p := range b.ParticleIndices {
			if p < 0 || p >= capacity {
				return fmt.Errorf("%w: %s batch %d references particle %d of %d", ErrCorrupt, s.Kind, bi, p, capacity)
			}
		}
	}
	return nil
}

// SaveFile writes a blueprint to path, tearing data included when present.
func SaveFile(path string, bp *TearableClothBlueprint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating blueprint file: %w", err)
	}
	if err := encode(f, bp); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads a blueprint from path.
func LoadFile(path string) (*TearableClothBlueprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening blueprint file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

type encoder struct {
	w   io.Writer
	err error
}

func (e *encoder) write(v any) {
	if e.err != nil {
		return
	}
	e.err = binary.Write(e.w, binary.LittleEndian, v)
}

func (e *encoder) count(n int) {
	e.write(int32(n))
}

func (e *encoder) ints(v []int) {
	out := make([]int32, len(v))
	for i, x := range v {
		out[i] = int32(x)
	}
	e.count(len(out))
	e.write(out)
}

type decoder struct {
	r   io.Reader
	err error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) read(v any) {
	if d.err != nil {
		return
	}
	if err := binary.Read(d.r, binary.LittleEndian, v); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = ErrTruncated
		}
		d.err = err
	}
}

func (d *decoder) count() int {
	var n int32
	d.read(&n)
	if d.err != nil {
		return 0
	}
	if n < 0 || n > maxCount {
		d.fail(fmt.Errorf("%w: length %d", ErrCorrupt, n))
		return 0
	}
	return int(n)
}

func (d *decoder) ints() []int {
	n := d.count()
	raw := make([]int32, n)
	d.read(raw)
	if d.err != nil {
		return nil
	}
	out := make([]int, n)
	for i, x := range raw {
		out[i] = int(x)
	}
	return out
}
