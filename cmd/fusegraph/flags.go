package main

import "github.com/urfave/cli/v3"

var (
	inputSize  int64
	batch      int64
	numUnits   int64
	outputSize int64
	dtypeName  string
	activation string

	cifg       bool
	peephole   bool
	layerNorm  bool
	projection bool
	cellClip   float64
	projClip   float64

	useMmap bool

	logLevel  string
	logFormat string
	debug     bool
)

func stepFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "input-size",
			Aliases:     []string{"i"},
			Usage:       "input width per step",
			Value:       32,
			Destination: &inputSize,
		},
		&cli.Int64Flag{
			Name:        "batch",
			Aliases:     []string{"b"},
			Usage:       "batch size",
			Value:       1,
			Destination: &batch,
		},
		&cli.Int64Flag{
			Name:        "num-units",
			Aliases:     []string{"u"},
			Usage:       "number of cell units",
			Value:       64,
			Destination: &numUnits,
		},
		&cli.Int64Flag{
			Name:        "output-size",
			Aliases:     []string{"o"},
			Usage:       "output width (defaults to num-units; differs only with projection)",
			Destination: &outputSize,
		},
		&cli.StringFlag{
			Name:        "dtype",
			Usage:       "element type (f32, f16, bf16)",
			Value:       "f32",
			Destination: &dtypeName,
		},
		&cli.StringFlag{
			Name:        "activation",
			Usage:       "cell activation (tanh, logistic)",
			Value:       "tanh",
			Destination: &activation,
		},
		&cli.BoolFlag{
			Name:        "cifg",
			Usage:       "couple the input gate to the forget gate",
			Destination: &cifg,
		},
		&cli.BoolFlag{
			Name:        "peephole",
			Usage:       "enable peephole connections",
			Destination: &peephole,
		},
		&cli.BoolFlag{
			Name:        "layer-norm",
			Usage:       "enable per-gate layer normalization",
			Destination: &layerNorm,
		},
		&cli.BoolFlag{
			Name:        "projection",
			Usage:       "enable the output projection",
			Destination: &projection,
		},
		&cli.Float64Flag{
			Name:        "cell-clip",
			Usage:       "cell state clipping threshold (0 = disabled)",
			Destination: &cellClip,
		},
		&cli.Float64Flag{
			Name:        "projection-clip",
			Usage:       "projection output clipping threshold (0 = disabled)",
			Destination: &projClip,
		},
		&cli.BoolFlag{
			Name:        "mmap",
			Usage:       "back tensors and scratch with anonymous mmap instead of the heap",
			Destination: &useMmap,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
