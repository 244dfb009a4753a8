package main

import (
	"fmt"
	"os"

	"eld/pkg/linker"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/slices"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:      "eld",
		Usage:     "static and dynamic ELF linker for x86-64",
		Version:   version,
		ArgsUsage: "objects...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Value:   "a.out",
				Usage:   "write the linked image to `FILE`",
			},
			&cli.StringFlag{
				Name:    "emulation",
				Aliases: []string{"m"},
				Usage:   "target emulation (elf_x86_64 or elf_i386)",
			},
			&cli.BoolFlag{
				Name:  "shared",
				Usage: "produce a shared library",
			},
			&cli.BoolFlag{
				Name:  "pie",
				Usage: "produce a position-independent executable",
			},
			&cli.BoolFlag{
				Name:  "no-pie",
				Usage: "produce a position-dependent executable",
			},
			&cli.BoolFlag{
				Name:  "gc-sections",
				Usage: "discard unreferenced sections",
			},
			&cli.StringFlag{
				Name:  "hash-style",
				Value: "sysv",
				Usage: "dynamic hash tables to emit (sysv, gnu or both)",
			},
			&cli.StringFlag{
				Name:    "entry",
				Aliases: []string{"e"},
				Value:   linker.EntrySymbolName,
				Usage:   "entry point symbol",
			},
			&cli.StringFlag{
				Name:  "soname",
				Usage: "DT_SONAME for a shared library",
			},
			&cli.StringFlag{
				Name:  "dynamic-linker",
				Value: linker.DefaultDynamicLinker,
				Usage: "program interpreter for dynamic executables",
			},
			&cli.StringSliceFlag{
				Name:    "library-path",
				Aliases: []string{"L"},
				Usage:   "add `DIR` to the library search path",
			},
			&cli.StringSliceFlag{
				Name:    "library",
				Aliases: []string{"l"},
				Usage:   "link against library `NAME`",
			},
			&cli.BoolFlag{
				Name:  "prefer-shared",
				Usage: "pick .so over .a when both are found",
			},
			&cli.StringSliceFlag{
				Name:  "z",
				Usage: "keyword options: now, lazy, relro, norelro",
			},
			&cli.StringSliceFlag{
				Name:  "debug-print",
				Usage: "dump internal state (loaded-object, relocations-analysis, relocated-object, layout, final-elf)",
			},
			// Accepted for gcc driver compatibility, no effect.
			&cli.BoolFlag{Name: "as-needed", Hidden: true},
			&cli.BoolFlag{Name: "no-as-needed", Hidden: true},
			&cli.BoolFlag{Name: "start-group", Hidden: true},
			&cli.BoolFlag{Name: "end-group", Hidden: true},
			&cli.BoolFlag{Name: "static", Hidden: true},
			&cli.StringFlag{Name: "build-id", Hidden: true},
			&cli.StringFlag{Name: "plugin", Hidden: true},
			&cli.StringFlag{Name: "sysroot", Hidden: true},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "eld: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	ctx := linker.NewContext()

	ctx.Arg.Output = c.String("output")
	ctx.Arg.Entry = c.String("entry")
	ctx.Arg.Soname = c.String("soname")
	ctx.Arg.DynamicLinker = c.String("dynamic-linker")
	ctx.Arg.Pie = c.Bool("pie") && !c.Bool("no-pie")
	ctx.Arg.GcSections = c.Bool("gc-sections")
	ctx.Arg.PreferShared = c.Bool("prefer-shared")
	ctx.Arg.LibraryPaths = c.StringSlice("library-path")

	if c.Bool("shared") {
		ctx.Arg.OutputKind = linker.OutputKindSharedLibrary
	}

	switch c.String("emulation") {
	case "":
		// Inferred from the first input file.
	case "elf_x86_64":
		ctx.Arg.Emulation = linker.MachineTypeX86_64
	case "elf_i386":
		ctx.Arg.Emulation = linker.MachineTypeI386
	default:
		return fmt.Errorf("unknown emulation: %s", c.String("emulation"))
	}

	switch c.String("hash-style") {
	case "sysv":
		ctx.Arg.HashStyle = linker.HashStyleSysv
	case "gnu":
		ctx.Arg.HashStyle = linker.HashStyleGnu
	case "both":
		ctx.Arg.HashStyle = linker.HashStyleBoth
	default:
		return fmt.Errorf("unknown hash style: %s", c.String("hash-style"))
	}

	for _, kw := range c.StringSlice("z") {
		switch kw {
		case "now":
			ctx.Arg.ZNow = true
		case "lazy":
			ctx.Arg.ZNow = false
		case "relro":
			ctx.Arg.Relro = true
		case "norelro":
			ctx.Arg.Relro = false
		default:
			return fmt.Errorf("unknown -z keyword: %s", kw)
		}
	}

	for _, view := range c.StringSlice("debug-print") {
		if !slices.Contains(linker.DebugViews, view) {
			return fmt.Errorf("unknown debug print view: %s", view)
		}
		ctx.Arg.DebugPrints = append(ctx.Arg.DebugPrints, view)
	}

	// Positional objects are loaded first, then the requested libraries.
	inputs := c.Args().Slice()
	for _, lib := range c.StringSlice("library") {
		inputs = append(inputs, "-l"+lib)
	}

	linker.ReadInputFiles(ctx, inputs)
	return linker.Link(ctx)
}
