package blueprint

import (
	"context"
	"fmt"

	"github.com/Faultbox/clothtear/internal/logger"
	"github.com/Faultbox/clothtear/pkg/coloring"
	"github.com/Faultbox/clothtear/pkg/constraints"
	"github.com/Faultbox/clothtear/pkg/formats"
	"github.com/Faultbox/clothtear/pkg/math"
	"github.com/Faultbox/clothtear/pkg/topology"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// stepBudget is how many constraints a single Step colors or batches.
const stepBudget = 4096

// Stage is a build stage.
type Stage int

// Build stages, in order.
const (
	StageValidate Stage = iota
	StageTopology
	StageParticles
	StageDistanceGather
	StageDistanceColor
	StageDistanceBatch
	StageBendGather
	StageBendColor
	StageBendBatch
	StageDone
)

// String returns a human-readable stage description.
func (s Stage) String() string {
	switch s {
	case StageValidate:
		return "Validating mesh"
	case StageTopology:
		return "Building topology"
	case StageParticles:
		return "Creating particles"
	case StageDistanceGather:
		return "Gathering distance constraints"
	case StageDistanceColor:
		return "Coloring distance constraints"
	case StageDistanceBatch:
		return "Batching distance constraints"
	case StageBendGather:
		return "Gathering bend constraints"
	case StageBendColor:
		return "Coloring bend constraints"
	case StageBendBatch:
		return "Batching bend constraints"
	case StageDone:
		return "Done"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Progress describes how far a build has advanced.
type Progress struct {
	Stage       Stage
	Description string
	// Fraction is the overall completion in [0, 1].
	Fraction float32
}

// ProgressFunc receives build progress. It may be nil.
type ProgressFunc func(Progress)

// pending is a gathered constraint waiting to be colored and batched.
type pending[P any] struct {
	particles []int
	params    P
	active    bool
	halfEdge  int // tearable distance constraints only
}

// Builder builds a blueprint one bounded step at a time, so a host loop can
// pump it across frames. All output goes to a scratch blueprint; the target
// is only touched by Commit, so an abandoned build leaves it unchanged.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	src      *formats.Mesh
	opts     Options
	tearable bool
	log      *zap.Logger

	stage Stage
	err   error
	out   *TearableClothBlueprint

	graph     *coloring.Graph
	colorizer *coloring.Colorization
	colors    []int
	batched   int

	distance []pending[constraints.DistanceParams]
	bend     []pending[constraints.BendParams]
}

// NewBuilder prepares a build of src. A tearable build reserves pooled
// particles and emits one distance constraint per half-edge.
func NewBuilder(src *formats.Mesh, opts Options, tearable bool) *Builder {
	return &Builder{
		src:      src,
		opts:     opts,
		tearable: tearable,
		log:      logger.Named("blueprint"),
		graph:    coloring.NewGraph(),
		out:      &TearableClothBlueprint{},
	}
}

// Stage returns the stage the next Step will run.
func (b *Builder) Stage() Stage {
	return b.stage
}

// Done reports whether the build finished successfully.
func (b *Builder) Done() bool {
	return b.stage == StageDone && b.err == nil
}

// Err returns the error that aborted the build, if any.
func (b *Builder) Err() error {
	return b.err
}

// Step runs one bounded unit of work. Once a step fails, every later call
// returns the same error.
func (b *Builder) Step() (Progress, error) {
	if b.err != nil {
		return b.progress(0), b.err
	}

	var err error
	switch b.stage {
	case StageValidate:
		err = b.validate()
	case StageTopology:
		err = b.buildTopology()
	case StageParticles:
		b.createParticles()
	case StageDistanceGather:
		b.gatherDistance()
	case StageDistanceColor, StageBendColor:
		b.color()
	case StageDistanceBatch:
		err = b.batchDistance()
	case StageBendGather:
		b.gatherBend()
	case StageBendBatch:
		err = b.batchBend()
	case StageDone:
		return b.progress(1), nil
	}

	if err != nil {
		b.err = err
		b.log.Error("blueprint build failed", zap.Stringer("stage", b.stage), zap.Error(err))
		return b.progress(0), err
	}
	return b.progress(b.stageFraction()), nil
}

// Run steps the build to completion, reporting progress after every step.
// It returns ctx.Err() if ctx is cancelled between steps.
func (b *Builder) Run(ctx context.Context, report ProgressFunc) error {
	for !b.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := b.Step()
		if err != nil {
			return err
		}
		if report != nil {
			report(p)
		}
	}
	return nil
}

// Commit replaces target with the finished plain cloth and stamps it with a
// new build id.
func (b *Builder) Commit(target *ClothBlueprint) error {
	if !b.Done() || b.out == nil {
		return ErrNotBuilt
	}
	if b.tearable {
		return fmt.Errorf("%w: built tearable cloth, committing plain", ErrWrongKind)
	}
	b.out.BuildID = uuid.New()
	*target = b.out.ClothBlueprint
	b.logCommitted(&b.out.ClothBlueprint)
	b.out = nil
	return nil
}

// CommitTearable replaces target with the finished tearable cloth and stamps
// it with a new build id.
func (b *Builder) CommitTearable(target *TearableClothBlueprint) error {
	if !b.Done() || b.out == nil {
		return ErrNotBuilt
	}
	if !b.tearable {
		return fmt.Errorf("%w: built plain cloth, committing tearable", ErrWrongKind)
	}
	b.out.BuildID = uuid.New()
	*target = *b.out
	b.logCommitted(&b.out.ClothBlueprint)
	b.out = nil
	return nil
}

func (b *Builder) logCommitted(bp *ClothBlueprint) {
	b.log.Info("blueprint built",
		zap.Stringer("build_id", bp.BuildID),
		zap.Bool("tearable", b.tearable),
		zap.Int("particles", bp.ActiveParticleCount()),
		zap.Int("capacity", bp.ParticleCount()),
		zap.Int("triangles", bp.TriangleCount()),
		zap.Int("distance_batches", len(bp.Distance.Batches)),
		zap.Int("bend_batches", len(bp.Bend.Batches)),
	)
}

// Generate builds src into b, replacing its contents on success.
func (b *ClothBlueprint) Generate(ctx context.Context, src *formats.Mesh, opts Options, report ProgressFunc) error {
	builder := NewBuilder(src, opts, false)
	if err := builder.Run(ctx, report); err != nil {
		return err
	}
	return builder.Commit(b)
}

// Generate builds src into t, replacing its contents on success.
func (t *TearableClothBlueprint) Generate(ctx context.Context, src *formats.Mesh, opts Options, report ProgressFunc) error {
	builder := NewBuilder(src, opts, true)
	if err := builder.Run(ctx, report); err != nil {
		return err
	}
	return builder.CommitTearable(t)
}

func (b *Builder) progress(stageFraction float32) Progress {
	stage := b.stage
	overall := float32(1)
	if stage < StageDone {
		overall = (float32(stage) + stageFraction) / float32(StageDone)
	}
	return Progress{Stage: stage, Description: stage.String(), Fraction: overall}
}

func (b *Builder) stageFraction() float32 {
	switch b.stage {
	case StageDistanceColor, StageBendColor:
		if b.colorizer != nil {
			return b.colorizer.Progress().Fraction
		}
	case StageDistanceBatch:
		if len(b.distance) > 0 {
			return float32(b.batched) / float32(len(b.distance))
		}
	case StageBendBatch:
		if len(b.bend) > 0 {
			return float32(b.batched) / float32(len(b.bend))
		}
	}
	return 0
}

func (b *Builder) validate() error {
	if b.src == nil {
		return ErrMissingMesh
	}
	if len(b.src.Indices) == 0 {
		return ErrEmptyMesh
	}
	if len(b.src.Indices)%3 != 0 {
		return fmt.Errorf("%w: %d indices", ErrInvalidIndices, len(b.src.Indices))
	}
	for _, i := range b.src.Indices {
		if i < 0 || i >= len(b.src.Positions) {
			return fmt.Errorf("%w: index %d, %d vertices", ErrInvalidIndices, i, len(b.src.Positions))
		}
	}
	b.stage = StageTopology
	return nil
}

func (b *Builder) buildTopology() error {
	mesh, vertexToCluster, err := topology.Build(b.src.Positions, b.src.Indices, b.opts.WeldDistance)
	if err != nil {
		// Every triangle collapsed under welding.
		return fmt.Errorf("%w: %v", ErrEmptyMesh, err)
	}
	b.out.Topology = mesh
	b.out.VertexToParticle = vertexToCluster
	b.stage = StageParticles
	return nil
}

// PoolSize returns how many pooled particles a tearable cloth with the given
// topology reserves: a fraction of the particles the cloth could ever need
// if every triangle corner ended up with its own particle.
func PoolSize(triangles, vertices int, tearCapacity float32) int {
	return max(0, int(float32(3*triangles-vertices)*tearCapacity))
}

func (b *Builder) createParticles() {
	mesh := b.out.Topology
	count := len(mesh.Clusters)

	pooled := 0
	if b.tearable {
		pooled = PoolSize(len(mesh.Triangles), count, b.opts.TearCapacity)
	}

	p := NewParticles(count + pooled)
	up := math.Vec3{Z: 1}
	for c, cluster := range mesh.Clusters {
		var area float32
		for _, f := range cluster.Faces {
			area += mesh.Area(f) / 3
		}
		if mass := b.opts.ParticleMass * area; mass > 0 {
			p.InvMasses[c] = 1 / mass
		}

		neighbours := mesh.Neighbours(c)
		var edgeLength float32
		for _, n := range neighbours {
			edgeLength += cluster.Position.Distance(mesh.Clusters[n].Position)
		}
		if len(neighbours) > 0 {
			p.Radii[c] = edgeLength / float32(len(neighbours)) / 2
		}

		p.Positions[c] = cluster.Position
		p.RestPositions[c] = cluster.Position
		p.Orientations[c] = math.QuatFromTo(up, cluster.Normal)
	}
	p.ActiveCount = count

	b.out.Particles = p
	b.out.PooledParticles = pooled
	if b.tearable {
		b.out.TearCapacity = b.opts.TearCapacity
		b.out.TearResistance = make([]float32, p.Capacity())
		for i := range b.out.TearResistance {
			b.out.TearResistance[i] = b.opts.TearResistance
		}
	}
	b.stage = StageDistanceGather
}

func (b *Builder) distanceParams(from, to int) constraints.DistanceParams {
	rest := b.out.Particles.RestPositions
	return constraints.DistanceParams{
		RestLength: rest[from].Distance(rest[to]),
		Compliance: b.opts.DistanceCompliance,
	}
}

// gatherDistance emits one constraint per edge for plain cloth. Tearable
// cloth gets one per half-edge so that splitting an edge never needs a new
// constraint slot: the lower half of every pair starts active, its twin
// starts inactive.
func (b *Builder) gatherDistance() {
	mesh := b.out.Topology
	b.distance = b.distance[:0]
	if b.tearable {
		for h := 0; h < mesh.HalfEdgeCount(); h++ {
			from, to := mesh.Origin(h), mesh.End(h)
			pair := mesh.Pair(h)
			b.distance = append(b.distance, pending[constraints.DistanceParams]{
				particles: []int{from, to},
				params:    b.distanceParams(from, to),
				active:    pair == topology.None || h < pair,
				halfEdge:  h,
			})
		}
	} else {
		for _, h := range mesh.Edges() {
			from, to := mesh.Origin(h), mesh.End(h)
			b.distance = append(b.distance, pending[constraints.DistanceParams]{
				particles: []int{from, to},
				params:    b.distanceParams(from, to),
				active:    true,
				halfEdge:  h,
			})
		}
	}
	b.beginColoring(StageDistanceColor, len(b.distance), func(i int) []int { return b.distance[i].particles })
}

// gatherBend pairs every neighbour of a cluster with the neighbour most
// opposite to it, and bends the pair around the cluster.
func (b *Builder) gatherBend() {
	mesh := b.out.Topology
	rest := b.out.Particles.RestPositions
	b.bend = b.bend[:0]

	for v := range mesh.Clusters {
		neighbours := mesh.Neighbours(v)
		seen := make(map[[2]int]bool)
		for _, n1 := range neighbours {
			dir1 := rest[n1].Sub(rest[v]).Normalize()
			best, bestCos := topology.None, float32(0)
			for _, n2 := range neighbours {
				if n2 == n1 {
					continue
				}
				cos := dir1.Dot(rest[n2].Sub(rest[v]).Normalize())
				if cos < bestCos {
					best, bestCos = n2, cos
				}
			}
			if best == topology.None {
				continue
			}
			key := [2]int{min(n1, best), max(n1, best)}
			if seen[key] {
				continue
			}
			seen[key] = true

			center := math.Centroid(rest[n1], rest[best], rest[v])
			b.bend = append(b.bend, pending[constraints.BendParams]{
				particles: []int{n1, best, v},
				params: constraints.BendParams{
					RestBend:   rest[v].Distance(center),
					Compliance: b.opts.BendCompliance,
					MaxBending: b.opts.MaxBending,
				},
				active: true,
			})
		}
	}
	b.beginColoring(StageBendColor, len(b.bend), func(i int) []int { return b.bend[i].particles })
}

func (b *Builder) beginColoring(next Stage, n int, participants func(int) []int) {
	b.graph.Clear()
	for i := 0; i < n; i++ {
		b.graph.AddConstraint(participants(i)...)
	}
	b.stage = next
	b.colorizer = b.graph.Begin(next.String())
}

func (b *Builder) color() {
	if b.colorizer.Step(stepBudget) {
		b.colors = b.colorizer.Colors()
		b.colorizer = nil
		b.batched = 0
		b.stage++
	}
}

// newBatches allocates one batch per color, sized to fit exactly.
func newBatches[P any](kind constraints.Kind, colors []int) *constraints.Set[P] {
	sizes := make([]int, coloring.ColorCount(colors))
	for _, c := range colors {
		sizes[c]++
	}
	set := constraints.NewSet[P](kind)
	for _, size := range sizes {
		set.AddBatch(constraints.NewBatch[P](kind, size))
	}
	return set
}

// addColored places gathered constraints [from, to) into the batch of their
// color and activates the ones marked active.
func addColored[P any](set *constraints.Set[P], items []pending[P], colors []int, from, to int, placed func(i int, h constraints.Handle)) error {
	for i := from; i < to; i++ {
		batch := set.Batches[colors[i]]
		id, err := batch.Add(items[i].params, items[i].particles...)
		if err != nil {
			return fmt.Errorf("batching %s constraint %d: %w", set.Kind, i, err)
		}
		if items[i].active {
			batch.Activate(batch.ConstraintIndex(id))
		}
		if placed != nil {
			placed(i, constraints.Handle{Batch: colors[i], ID: id})
		}
	}
	return nil
}

func (b *Builder) batchDistance() error {
	if b.batched == 0 {
		b.out.Distance = newBatches[constraints.DistanceParams](constraints.Distance, b.colors)
		if b.tearable {
			b.out.DistanceConstraintMap = make([]constraints.Handle, b.out.Topology.HalfEdgeCount())
			for i := range b.out.DistanceConstraintMap {
				b.out.DistanceConstraintMap[i] = constraints.NoHandle
			}
		}
	}

	var placed func(int, constraints.Handle)
	if b.tearable {
		placed = func(i int, h constraints.Handle) {
			b.out.DistanceConstraintMap[b.distance[i].halfEdge] = h
		}
	}
	end := min(b.batched+stepBudget, len(b.distance))
	if err := addColored(b.out.Distance, b.distance, b.colors, b.batched, end, placed); err != nil {
		return err
	}
	b.batched = end

	if b.batched == len(b.distance) {
		b.distance = nil
		b.stage = StageBendGather
	}
	return nil
}

func (b *Builder) batchBend() error {
	if b.batched == 0 {
		b.out.Bend = newBatches[constraints.BendParams](constraints.Bend, b.colors)
	}

	end := min(b.batched+stepBudget, len(b.bend))
	if err := addColored(b.out.Bend, b.bend, b.colors, b.batched, end, nil); err != nil {
		return err
	}
	b.batched = end

	if b.batched == len(b.bend) {
		b.bend = nil
		b.colors = nil
		b.out.Tethers = constraints.NewSet[constraints.TetherParams](constraints.Tether)
		b.stage = StageDone
	}
	return nil
}
