package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/vburojevic/uelog/internal/app"
	"github.com/vburojevic/uelog/internal/config"
)

func main() {
	// Load configuration from files/environment; flags override below.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c app.CLI
	kong.Parse(&c,
		kong.Name("uelogd"),
		kong.Description("Unreal Engine log aggregation server.\n\n"+
			"Collects logs from game clients, dedicated servers (UDP JSON datagrams)\n"+
			"and log files, stores them searchably, and serves them to AI agents\n"+
			"over the Model Context Protocol."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		app.Vars(cfg),
	)

	a, err := app.New(c.BuildConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "uelogd: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "uelogd: %v\n", err)
		os.Exit(1)
	}
}
