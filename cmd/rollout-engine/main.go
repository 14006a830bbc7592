package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli struct {
		Release  ReleaseCmd  `kong:"cmd,help='Run one reconciliation cycle against the local container runtime.'"`
		Daemon   DaemonCmd   `kong:"cmd,help='Run reconciliation cycles on a schedule and serve metrics.'"`
		Validate ValidateCmd `kong:"cmd,help='Parse and validate a release manifest without touching the runtime.'"`
		Version  VersionCmd  `kong:"cmd,help='Print version information.'"`
	}

	parser := kong.Must(&cli,
		kong.Description("Converges a host's containers onto a declared release manifest."),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.UsageOnError())

	app, parseErr := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(parseErr)

	appErr := app.Run()
	app.FatalIfErrorf(appErr)
}
