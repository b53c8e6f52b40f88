// ------------------------------------------------
// Usage:
// $ go run ./cmd/gm8dec game.exe -o game.gmd
// $ go run ./cmd/gm8dec game.exe --strict -v
// ------------------------------------------------

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/ysh86/gm8dec/pkg/crc32"
	"github.com/ysh86/gm8dec/pkg/exe"
	"github.com/ysh86/gm8dec/pkg/gamedata"
	"github.com/ysh86/gm8dec/pkg/logging"
)

type CLI struct {
	File string `arg:"" type:"existingfile" help:"GameMaker 8 executable"`

	Output  string `short:"o" help:"Write the gamedata stream to this file (- for stdout)"`
	Strict  bool   `help:"Inflate the settings block to confirm the gamedata decrypted cleanly"`
	Verbose bool   `short:"v" help:"Log every detection step (same as --log-level=debug)"`

	LogLevel  string `default:"info"    enum:"debug,info,warn,error,disabled" help:"Sets the minimum severity level for log messages"` // nolint:lll
	LogOutput string `default:"console" enum:"console,stdout,stderr,json"      help:"Specifies the format for log output"`
}

func run(cli *CLI, stdout io.Writer) error {
	if cli.Verbose {
		cli.LogLevel = "debug"
	}
	logger, err := logging.Provide(logging.Config{LogLevel: cli.LogLevel, LogOutput: cli.LogOutput})
	if err != nil {
		return err
	}

	data, err := os.ReadFile(cli.File)
	if err != nil {
		return err
	}
	img := exe.New(data)

	version, err := gamedata.Extract(img, logger)
	if err != nil {
		return err
	}
	logger.Info().
		Stringer("version", version).
		Str("offset", fmt.Sprintf("0x%X", img.Pos())).
		Int("size", len(img.Remaining())).
		Msg("Extracted gamedata")

	stream := img.Remaining()
	logger.Debug().Str("crc32", fmt.Sprintf("%08x", crc32.Checksum(stream))).Msg("Gamedata checksum")
	if cli.Strict {
		settings, block, err := gamedata.ReadSettings(exe.New(stream))
		if err != nil {
			return err
		}
		logger.Info().Uint32("settings_version", settings).Int("settings_size", len(block)).Msg("Settings block is intact")
	}

	switch cli.Output {
	case "":
		return nil
	case "-":
		_, err = stdout.Write(stream)
		return err
	default:
		return writeFile(cli.Output, stream, logger)
	}
}

func writeFile(name string, b []byte, logger *zerolog.Logger) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Debug().Str("path", name).Int("size", len(b)).Msg("Wrote gamedata")
	return nil
}

func main() {
	cli := CLI{}
	kong.Parse(
		&cli,
		kong.Name("gm8dec"),
		kong.Description("Extract the gamedata stream from a GameMaker 8 executable"),
		kong.UsageOnError(),
	)
	if err := run(&cli, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gm8dec: %v\n", err)
		os.Exit(1)
	}
}
