package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "timelapse",
		Usage: "Token transfer timelapse CLI",
		Description: `A command-line tool for the transfer timelapse service.

Use this CLI to inspect and replay datasets offline, drive playback on a running
server, and tail its snapshot stream or the transfer events it publishes to NATS.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Offline dataset commands
			{
				Name:  "dataset",
				Usage: "Load, inspect and replay datasets without a server",
				Subcommands: []*cli.Command{
					inspectDatasetCommand(),
					replayDatasetCommand(),
				},
			},
			// Playback commands (HTTP API)
			playbackCommands(),
			// SSE streaming commands
			sseCommands(),
			// NATS transfer event commands
			{
				Name:  "nats",
				Usage: "NATS transfer event commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Timelapse server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "dataset-table",
				Usage:   "Table to read when the dataset source is a Postgres URI",
				EnvVars: []string{"DATASET_TABLE"},
				Value:   "transfers",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level for diagnostics on stderr (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "error",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
