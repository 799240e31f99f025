// clothtool builds, inspects and tears cloth blueprints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/clothtear/internal/blueprint"
	"github.com/Faultbox/clothtear/internal/config"
	"github.com/Faultbox/clothtear/internal/logger"
	"github.com/Faultbox/clothtear/internal/solver"
	"github.com/Faultbox/clothtear/internal/tearing"
	"github.com/Faultbox/clothtear/pkg/constraints"
	"github.com/Faultbox/clothtear/pkg/formats"
	"github.com/Faultbox/clothtear/pkg/math"
)

func main() {
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "build":
		err = cmdBuild(ctx, cfg, args)
	case "info":
		err = cmdInfo(args)
	case "color":
		err = cmdColor(args)
	case "tear":
		err = cmdTear(ctx, cfg, args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logger.Sync()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`clothtool - tearable cloth blueprint utility

Usage:
  clothtool [global options] <command> [options]

Commands:
  build <mesh.obj|grid:N> [-o out] [-plain]    Build a blueprint from a mesh
  info <file.otcb>                             Show blueprint information
  color <file.otcb>                            Show constraint batch sizes
  tear <file.otcb> [-stretch s] [-steps n]     Stretch a tearable cloth and tear it

Global options:
  -config <file>     Config file (.yaml or .toml)
  -debug             Debug logging
  -log <file>        Log file
  -no-tearing        Disable tearing
  -tear-rate <n>     Maximum tears per substep
  -weld <d>          Weld distance
  -capacity <f>      Tear capacity

Examples:
  clothtool build grid:20 -o flag.otcb
  clothtool -weld 0.001 build sheet.obj -o sheet.otcb -pin-top
  clothtool info flag.otcb
  clothtool -config clothtear.yaml tear flag.otcb -stretch 1.02 -steps 50 -watch`)
}

// loadMesh reads an OBJ file, or generates a square grid for "grid:N".
func loadMesh(source string) (*formats.Mesh, error) {
	if n, ok := strings.CutPrefix(source, "grid:"); ok {
		size, err := strconv.Atoi(n)
		if err != nil || size < 2 {
			return nil, fmt.Errorf("invalid grid size %q", n)
		}
		return formats.Grid(size, size, 1/float32(size-1)), nil
	}
	return formats.ParseOBJFile(source)
}

// topRow returns the active particles at the greatest rest height.
func topRow(bp *blueprint.ClothBlueprint) []int {
	p := &bp.Particles
	if p.ActiveCount == 0 {
		return nil
	}
	top := p.RestPositions[0].Y
	for i := 1; i < p.ActiveCount; i++ {
		top = max(top, p.RestPositions[i].Y)
	}
	var out []int
	for i := 0; i < p.ActiveCount; i++ {
		if top-p.RestPositions[i].Y < 1e-5 {
			out = append(out, i)
		}
	}
	return out
}

func cmdBuild(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	output := fs.String("o", "", "Output file (default: <mesh>.otcb)")
	plain := fs.Bool("plain", false, "Build a cloth that cannot tear")
	pinTop := fs.Bool("pin-top", false, "Pin the top row of particles")
	tethers := fs.Bool("tethers", false, "Tether free particles to pinned ones")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return errors.New("usage: clothtool build <mesh.obj|grid:N> [-o out] [-plain]")
	}
	source := fs.Arg(0)
	mesh, err := loadMesh(source)
	if err != nil {
		return err
	}

	out := *output
	if out == "" {
		out = strings.TrimSuffix(strings.ReplaceAll(source, ":", "_"), ".obj") + ".otcb"
	}

	builder := blueprint.NewBuilder(mesh, blueprint.OptionsFromConfig(cfg.Build), !*plain)
	start := time.Now()
	err = builder.Run(ctx, func(p blueprint.Progress) {
		fmt.Fprintf(os.Stderr, "\r[%3.0f%%] %-32s", p.Fraction*100, p.Description)
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	bp := &blueprint.TearableClothBlueprint{}
	if *plain {
		err = builder.Commit(&bp.ClothBlueprint)
	} else {
		err = builder.CommitTearable(bp)
	}
	if err != nil {
		return err
	}

	if *pinTop {
		bp.Pin(topRow(&bp.ClothBlueprint)...)
	}
	if *tethers {
		if err := bp.GenerateTethers(ctx, cfg.Build.TetherScale, 0); err != nil {
			return err
		}
	}

	if err := blueprint.SaveFile(out, bp); err != nil {
		return err
	}
	fmt.Printf("Built %s in %v\n", out, time.Since(start).Round(time.Millisecond))
	return nil
}

func cmdInfo(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: clothtool info <file.otcb>")
	}
	bp, err := blueprint.LoadFile(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Blueprint: %s\n", args[0])
	fmt.Printf("Build:     %s\n", bp.BuildID)
	fmt.Printf("Tearable:  %v\n", bp.Tearable())
	fmt.Printf("Particles: %d active, %d capacity\n", bp.ActiveParticleCount(), bp.ParticleCount())
	fmt.Printf("Triangles: %d\n", bp.TriangleCount())
	fmt.Printf("Edges:     %d\n", len(bp.Topology.Edges()))
	if bp.Tearable() {
		fmt.Printf("Pool:      %d pooled (capacity %.2f)\n", bp.PooledParticles, bp.TearCapacity)
	}
	fmt.Println()
	fmt.Println("Constraints:")
	printSetSummary(bp.Distance.Kind, bp.Distance.ActiveConstraintCount(), bp.Distance.ConstraintCount(), len(bp.Distance.Batches))
	printSetSummary(bp.Bend.Kind, bp.Bend.ActiveConstraintCount(), bp.Bend.ConstraintCount(), len(bp.Bend.Batches))
	printSetSummary(bp.Tethers.Kind, bp.Tethers.ActiveConstraintCount(), bp.Tethers.ConstraintCount(), len(bp.Tethers.Batches))
	return nil
}

func printSetSummary(kind constraints.Kind, active, total, batches int) {
	fmt.Printf("  %-10s %6d active / %6d in %d batches\n", kind, active, total, batches)
}

func printBatches[P any](set *constraints.Set[P]) {
	fmt.Printf("%s:\n", set.Kind)
	for i, b := range set.Batches {
		fmt.Printf("  batch %-3d %6d active / %6d\n", i, b.ActiveConstraintCount(), b.ConstraintCount())
	}
}

func cmdColor(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: clothtool color <file.otcb>")
	}
	bp, err := blueprint.LoadFile(args[0])
	if err != nil {
		return err
	}
	printBatches(bp.Distance)
	printBatches(bp.Bend)
	printBatches(bp.Tethers)
	return nil
}

func cmdTear(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("tear", flag.ExitOnError)
	stretch := fs.Float64("stretch", 1.01, "Horizontal stretch factor applied every step")
	stiffness := fs.Float64("stiffness", 1e5, "Spring stiffness used to estimate tension")
	steps := fs.Int("steps", 20, "Number of simulation steps")
	watch := fs.Bool("watch", false, "Reload tearing settings when the config file changes")
	interval := fs.Duration("interval", 0, "Delay between steps")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return errors.New("usage: clothtool tear <file.otcb> [-stretch s] [-steps n]")
	}
	bp, err := blueprint.LoadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	buffers := solver.NewBuffers(bp.ParticleCount())
	indices, err := buffers.AddActor(&bp.Particles)
	if err != nil {
		return err
	}

	step := 0
	cloth, err := tearing.Load(bp, buffers, indices, tearing.SettingsFromConfig(cfg.Tearing),
		tearing.ObserverFunc(func(e tearing.TearEvent) {
			fmt.Printf("step %3d: tore %d/%d (%.0f N), split %d -> %d, %d faces\n",
				step, e.Edge.Batch, e.Edge.ID, e.Edge.Force, e.SplitParticle, e.NewParticle, len(e.UpdatedFaces))
		}))
	if err != nil {
		return err
	}
	defer cloth.Unload()

	reloads := make(chan *config.Config, 1)
	if *watch {
		path := config.ConfigPath()
		if path == "" {
			return errors.New("-watch needs a -config file")
		}
		if err := config.Watch(ctx, path, func(c *config.Config) {
			select {
			case reloads <- c:
			default:
				// Drop the stale pending config for the newer one.
				select {
				case <-reloads:
				default:
				}
				reloads <- c
			}
		}); err != nil {
			return err
		}
	}

	dt := cfg.Solver.SubstepTime()
	total := 0
	for step = 1; step <= *steps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case c := <-reloads:
			cloth.SetSettings(tearing.SettingsFromConfig(c.Tearing))
			fmt.Printf("step %3d: settings reloaded (%+v)\n", step, cloth.Settings())
		default:
		}

		buffers.Stretch(cloth.SolverIndices(), math.Vec3{X: 1}, float32(*stretch))
		for s := 0; s < cfg.Solver.Substeps; s++ {
			buffers.EstimateStretch(cloth.SolverIndices(), cloth.Blueprint().Distance, dt, float32(*stiffness))
			total += cloth.Substep(dt)
		}
		buffers.ClearDirty()

		if *interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(*interval):
			}
		}
	}

	fmt.Printf("Tears: %d, particles: %d/%d\n", total, cloth.ActiveParticleCount(), cloth.Blueprint().ParticleCount())
	return nil
}
