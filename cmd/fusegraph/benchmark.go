package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/fusegraph/fusegraph/internal/device"
	"github.com/fusegraph/fusegraph/internal/fused"
)

func benchCmd() *cli.Command {
	var (
		warmupRuns int64
		benchRuns  int64
		steps      int64
	)

	flags := append([]cli.Flag{}, stepFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of benchmark runs",
			Value:       3,
			Destination: &benchRuns,
		},
		&cli.Int64Flag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "number of time steps per run",
			Value:       100,
			Destination: &steps,
		},
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Run standardized step benchmarks",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			log := cmdLogger()
			applyStepConfig(c, LoadConfig())

			shape, err := shapeFromFlags()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			dt, err := stepDType()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if steps <= 0 || benchRuns <= 0 {
				return cli.Exit("error: steps and runs must be positive", 1)
			}

			alloc := stepAllocator()
			ops, params, err := buildStep(alloc, dt, shape)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build operands: %v", err), 1)
			}

			layer := fused.NewLSTMLayer(alloc, log)
			defer func() { _ = layer.Close() }()
			if err := layer.Configure(ops, params); err != nil {
				return cli.Exit(fmt.Sprintf("error: configure: %v", err), 1)
			}

			q := device.NewQueue(64)
			defer func() { _ = q.Close() }()
			if err := layer.Prepare(q); err != nil {
				return cli.Exit(fmt.Sprintf("error: prepare: %v", err), 1)
			}

			pool := layer.Pool()
			fmt.Println("=== Fusegraph Benchmark ===")
			fmt.Printf("Shape:    input=%d batch=%d units=%d output=%d\n",
				shape.inputSize, shape.batch, shape.numUnits, shape.outputSize)
			fmt.Printf("Features: %s\n", layer.Features())
			fmt.Printf("DType:    %s\n", dt)
			fmt.Printf("Scratch:  %d B peak of %d B total\n", pool.PeakBytes(), pool.TotalBytes())
			fmt.Printf("CPUs:     %d\n", runtime.NumCPU())
			fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("Steps:    %d per run\n", steps)
			fmt.Printf("Warmup:   %d runs\n", warmupRuns)
			fmt.Printf("Runs:     %d\n", benchRuns)
			fmt.Println()

			runOnce := func() (time.Duration, error) {
				start := time.Now()
				for i := range int(steps) {
					if i > 0 {
						rotateState(ops)
					}
					if err := layer.Run(q); err != nil {
						return 0, err
					}
					if err := q.Finish(); err != nil {
						return 0, err
					}
				}
				return time.Since(start), nil
			}

			for i := range int(warmupRuns) {
				log.Info("warmup run", "run", i+1)
				if _, err := runOnce(); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}

			durations := make([]time.Duration, 0, benchRuns)
			for i := range int(benchRuns) {
				log.Info("benchmark run", "run", i+1)
				d, err := runOnce()
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
				}
				durations = append(durations, d)
			}

			fmt.Println("=== Results ===")
			fmt.Printf("%-6s %12s %12s %12s\n", "Run", "steps/s", "ns/step", "Duration")
			var sum time.Duration
			for i, d := range durations {
				perStep := d / time.Duration(steps)
				fmt.Printf("%-6d %12.1f %12d %12s\n",
					i+1, float64(steps)/d.Seconds(), perStep.Nanoseconds(), d.Round(time.Microsecond))
				sum += d
			}
			avg := sum / time.Duration(len(durations))
			fmt.Printf("\n%-6s %12.1f %12d %12s\n",
				"Avg", float64(steps)/avg.Seconds(), (avg / time.Duration(steps)).Nanoseconds(), avg.Round(time.Microsecond))

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("\nMemory: %.1f MB alloc, %.1f MB sys\n",
				float64(mem.Alloc)/(1024*1024),
				float64(mem.Sys)/(1024*1024))

			return nil
		},
	}
}
