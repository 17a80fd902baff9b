// Package main provides the pixelnet CLI.
//
// Usage:
//
//	pixelnet [global options] <command> [options]
//
// Commands:
//   - draw: fetch tokens, connect and draw an image onto the board
//   - watch: connect read-only and log board updates
//   - tokens: exchange the configured credentials and report the result
//   - board: serve an in-process board for local runs
//   - validate: load and validate a config file
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "pixelnet",
		Usage:          "Pixel board dispatch client",
		Version:        version,
		Flags:          globalFlags(),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			drawCommand(),
			watchCommand(),
			tokensCommand(),
			boardCommand(),
			validateCommand(),
		},
	}
}

// exitErrHandler prints the error once and preserves exit codes from cli.Exit.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
