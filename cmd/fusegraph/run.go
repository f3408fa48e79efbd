package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/fusegraph/fusegraph/internal/device"
	"github.com/fusegraph/fusegraph/internal/fused"
)

func runCmd() *cli.Command {
	var (
		steps int64
		show  int64
	)

	flags := append([]cli.Flag{}, stepFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "number of time steps to run",
			Value:       1,
			Destination: &steps,
		},
		&cli.Int64Flag{
			Name:        "show",
			Usage:       "number of output values to print (0 = none)",
			Value:       8,
			Destination: &show,
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Configure a step and run it over random operands",
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
			if steps <= 0 {
				return cli.Exit("error: steps must be positive", 1)
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
			log.Info("layer configured", "features", layer.Features().String())

			q := device.NewQueue(64)
			defer func() { _ = q.Close() }()

			start := time.Now()
			for i := range int(steps) {
				if i > 0 {
					rotateState(ops)
				}
				if err := layer.Run(q); err != nil {
					return cli.Exit(fmt.Sprintf("error: step %d: %v", i+1, err), 1)
				}
				if err := q.Finish(); err != nil {
					return cli.Exit(fmt.Sprintf("error: step %d: %v", i+1, err), 1)
				}
			}
			elapsed := time.Since(start)

			pool := layer.Pool()
			fmt.Printf("features:      %s\n", layer.Features())
			fmt.Printf("dtype:         %s\n", dt)
			fmt.Printf("steps:         %d in %s (%.1f steps/s)\n",
				steps, elapsed.Round(time.Microsecond), float64(steps)/elapsed.Seconds())
			fmt.Printf("scratch:       %d B peak of %d B total\n",
				pool.PeakBytes(), pool.TotalBytes())

			if show > 0 {
				n := int(show)
				if n > ops.Output.NumElements() {
					n = ops.Output.NumElements()
				}
				out := make([]float32, ops.Output.NumElements())
				ops.Output.ReadF32(out)
				fmt.Printf("output[:%d]:  ", n)
				for i := range n {
					fmt.Printf(" %+.5f", out[i])
				}
				fmt.Println()
			}
			return nil
		},
	}
}
