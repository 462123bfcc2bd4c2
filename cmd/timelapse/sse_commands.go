package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/2mur/transfers-timelapse-nc/client"
	"github.com/2mur/transfers-timelapse-nc/service/dataset"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func sseCommands() *cli.Command {
	return &cli.Command{
		Name:  "sse",
		Usage: "Server-Sent Events (SSE) streaming commands",
		Subcommands: []*cli.Command{
			streamCommand(),
		},
	}
}

// errStreamLimit stops the stream once --count matching snapshots were printed.
var errStreamLimit = errors.New("stream limit reached")

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Stream playback snapshots via SSE (HTTP)",
		Description: `Follow the server's snapshot stream and print one line per frame.

Frames can be narrowed with jq expressions evaluated against the playback state
({"playing", "elapsed", "replay", "snapshot": {...}}). All expressions must be truthy
for a frame to be printed.

Examples:
  timelapse sse stream
  timelapse sse stream --must-jq '.snapshot.activeCount > 10' --count 1 --json`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
				Aliases: []string{"jq"},
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Stop after this many matching frames (0 streams until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			jsonOutput := c.Bool("json")
			limit := c.Int("count")

			filters, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}
			cl := client.NewClient(serverURL, nil, newLogger(c.String("log-level")))

			// Create context that cancels on interrupt
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case <-sigChan:
					cancel()
				case <-ctx.Done():
				}
			}()

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Connected to snapshot stream at %s\n", serverURL)
				fmt.Fprintf(os.Stderr, "Streaming snapshots... (Ctrl+C to stop)\n\n")
			}

			printed := 0
			err = cl.StreamSnapshots(ctx, func(st *client.State) error {
				ok, err := matchesAll(filters, st)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}

				printed++
				if jsonOutput {
					data, err := json.Marshal(stateSummary(st))
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, string(data))
				} else {
					printFrame(c, st)
				}

				if limit > 0 && printed >= limit {
					return errStreamLimit
				}
				return nil
			})
			if errors.Is(err, errStreamLimit) {
				return nil
			}
			return err
		},
	}
}

func compileFilters(exprs []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(exprs))
	for i, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
	}
	return compiled, nil
}

// matchesAll evaluates every filter against the state as plain JSON values.
func matchesAll(filters []*gojq.Code, st *client.State) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}

	data, err := json.Marshal(st)
	if err != nil {
		return false, fmt.Errorf("failed to encode state: %w", err)
	}
	var input map[string]any
	if err := json.Unmarshal(data, &input); err != nil {
		return false, fmt.Errorf("failed to decode state: %w", err)
	}

	for _, code := range filters {
		if !dataset.Truthy(code, input) {
			return false, nil
		}
	}
	return true, nil
}

func printFrame(c *cli.Context, st *client.State) {
	status := "paused"
	if st.Playing {
		status = "playing"
	}
	fmt.Fprintf(c.App.Writer, "[%8.0f ms] %-7s admitted=%d/%d active=%d block=%s volume=%.2f\n",
		st.Elapsed,
		status,
		st.Snapshot.Admitted,
		st.Snapshot.Total,
		st.Snapshot.ActiveCount,
		st.Snapshot.CurrentBlock,
		st.Snapshot.TotalVolume,
	)
}
