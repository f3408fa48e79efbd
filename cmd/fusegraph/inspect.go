package main

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/fusegraph/fusegraph/internal/fused"
)

func inspectCmd() *cli.Command {
	var asJSON bool

	flags := append([]cli.Flag{}, stepFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "emit the graph description as JSON",
			Destination: &asJSON,
		},
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Assemble the kernel graph for a step configuration and describe it",
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

			// Unbound tensors: the graph is assembled and described
			// without allocating any operand or scratch memory.
			ops, params, err := buildStep(nil, dt, shape)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build operands: %v", err), 1)
			}

			layer := fused.NewLSTMLayer(nil, log)
			defer func() { _ = layer.Close() }()
			if err := layer.Configure(ops, params); err != nil {
				return cli.Exit(fmt.Sprintf("error: configure: %v", err), 1)
			}
			info := layer.Describe()

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			fmt.Printf("features: %s\n", info.Features)
			fmt.Printf("state:    %s\n", info.State)
			fmt.Printf("\nNodes (%d)\n", len(info.Nodes))
			for _, n := range info.Nodes {
				fmt.Printf("%3d  %-9s %-24s %s\n", n.Index, n.Phase, n.Label, n.Kernel)
			}
			fmt.Printf("\nScratch (%d tensors, %d B as laid out, %d B unshared)\n",
				len(info.Scratch), info.PeakScratchBytes, info.TotalScratchBytes)
			for _, s := range info.Scratch {
				kind := "reusable"
				if s.Persistent {
					kind = "persistent"
				}
				fmt.Printf("  %-24s %-12s %8d B  %s\n", s.Role, s.Shape, s.Bytes, kind)
			}
			return nil
		},
	}
}
