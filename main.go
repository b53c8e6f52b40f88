// ------------------------------------------------
// Usage:
// $ go run main.go game.gmd game.exe --layout=gm81
// $ go run ./cmd/gm8dec game.exe -o check.gmd
// ------------------------------------------------

package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/ysh86/gm8dec/pkg/antidec"
	"github.com/ysh86/gm8dec/pkg/logging"
	"github.com/ysh86/gm8dec/pkg/synth"
)

type CLI struct {
	Input  string `arg:"" type:"existingfile" help:"Plain gamedata stream"`
	Output string `arg:""                     help:"Executable to create"`

	Layout string `default:"gm81" enum:"gm80,antidec,upx,gm81" help:"Protection to apply"`

	Magic      uint32 `default:"1234321"    help:"Header magic checked by the loader"`
	Version    uint32 `default:"800"        help:"GM8.0 header version"`
	HashNumber uint32 `default:"0"          help:"GM8.1 hash key number"`
	Seed       uint32 `default:"24301"      help:"GM8.1 first keystream seed, low byte doubles as the antidec2 loader mask"` // nolint:lll
	XorMask    uint32 `default:"1067565783" help:"antidec2 XOR mask"`
	AddMask    uint32 `default:"16909060"   help:"antidec2 add mask"`
	SubMask    uint32 `default:"195948557"  help:"antidec2 subtract mask"`

	LogLevel  string `default:"info"    enum:"debug,info,warn,error,disabled" help:"Sets the minimum severity level for log messages"` // nolint:lll
	LogOutput string `default:"console" enum:"console,stdout,stderr,json"      help:"Specifies the format for log output"`
}

func (cli *CLI) build(data []byte) (*synth.Layout, error) {
	ad := synth.Antidec{
		Params: antidec.Params{
			HeaderStart: 0x10,
			XorMask:     cli.XorMask,
			AddMask:     cli.AddMask,
			SubMask:     cli.SubMask,
		},
		Mask: byte(cli.Seed),
	}
	switch cli.Layout {
	case "gm80":
		return synth.GM80{Magic: cli.Magic, Version: cli.Version}.Build(data)
	case "antidec":
		return ad.Build(data)
	case "upx":
		return synth.UPX{Antidec: ad}.Build(data)
	case "gm81":
		return synth.GM81{Magic: cli.Magic, HashNumber: cli.HashNumber, Seed1: cli.Seed}.Build(data)
	default:
		return nil, fmt.Errorf("%w: %s", synth.ErrLayout, cli.Layout)
	}
}

func run(cli *CLI) error {
	logger, err := logging.Provide(logging.Config{LogLevel: cli.LogLevel, LogOutput: cli.LogOutput})
	if err != nil {
		return err
	}

	data, err := os.ReadFile(cli.Input)
	if err != nil {
		return err
	}
	l, err := cli.build(data)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cli.Output, l.Data, 0o644); err != nil {
		return err
	}
	logger.Info().
		Str("layout", cli.Layout).
		Str("gamedata", fmt.Sprintf("0x%X", l.Gamedata)).
		Int("size", len(l.Data)).
		Msg("Wrote executable")
	return nil
}

func main() {
	cli := CLI{}
	kong.Parse(
		&cli,
		kong.Name("gm8pack"),
		kong.Description("Wrap a gamedata stream into a protected GameMaker 8 executable"),
		kong.UsageOnError(),
	)
	if err := run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "gm8pack: %v\n", err)
		os.Exit(1)
	}
}
