package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2mur/transfers-timelapse-nc/client"
	"github.com/urfave/cli/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func playbackCommands() *cli.Command {
	return &cli.Command{
		Name:  "playback",
		Usage: "Control playback on a running server",
		Subcommands: []*cli.Command{
			playbackActionCommand("play", "Start or resume playback", (*client.Client).Play),
			playbackActionCommand("pause", "Freeze playback", (*client.Client).Pause),
			playbackActionCommand("toggle", "Flip between playing and paused", (*client.Client).Toggle),
			playbackActionCommand("restart", "Clear the replay and play from the beginning", (*client.Client).Restart),
			statusCommand(),
		},
	}
}

func playbackActionCommand(name, usage string, action func(*client.Client, context.Context) (*client.State, error)) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{timeoutFlag()},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			st, err := action(cl, c.Context)
			if errors.Is(err, client.ErrEmptyDataset) {
				return fmt.Errorf("%s failed: the server has no transfers to play", name)
			}
			if err != nil {
				return fmt.Errorf("%s failed: %w", name, err)
			}

			if c.Bool("json") {
				return writeJSONOutput(c.App.Writer, stateSummary(st))
			}
			printState(c.App.Writer, st)
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the current playback state",
		Flags: []cli.Flag{timeoutFlag()},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			st, err := cl.Snapshot(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get playback state: %w", err)
			}

			if c.Bool("json") {
				return writeJSONOutput(c.App.Writer, stateSummary(st))
			}
			printState(c.App.Writer, st)
			return nil
		},
	}
}

func timeoutFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Request timeout",
		Value: 10 * time.Second,
	}
}

// newClient builds a client for the global --server-url.
func newClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}

	httpClient := &http.Client{Timeout: c.Duration("timeout")}
	return client.NewClient(serverURL, httpClient, newLogger(c.String("log-level"))), nil
}

// playbackState is the scalar part of a state, without nodes and links.
type playbackState struct {
	Playing          bool    `json:"playing"`
	Elapsed          float64 `json:"elapsed"`
	Replay           int     `json:"replay"`
	Admitted         int     `json:"admitted"`
	Total            int     `json:"total"`
	Done             bool    `json:"done"`
	ActiveCount      int     `json:"active_count"`
	TotalVolume      float64 `json:"total_volume"`
	CurrentBlock     string  `json:"current_block"`
	CurrentBlockDiff float64 `json:"current_block_diff"`
	CurrentTimestamp string  `json:"current_timestamp"`
	Nodes            int     `json:"nodes"`
	Links            int     `json:"links"`
}

func stateSummary(st *client.State) playbackState {
	return playbackState{
		Playing:          st.Playing,
		Elapsed:          st.Elapsed,
		Replay:           st.Replay,
		Admitted:         st.Snapshot.Admitted,
		Total:            st.Snapshot.Total,
		Done:             st.Snapshot.Done,
		ActiveCount:      st.Snapshot.ActiveCount,
		TotalVolume:      st.Snapshot.TotalVolume,
		CurrentBlock:     st.Snapshot.CurrentBlock,
		CurrentBlockDiff: st.Snapshot.CurrentBlockDiff,
		CurrentTimestamp: st.Snapshot.CurrentTimestamp,
		Nodes:            len(st.Snapshot.Nodes),
		Links:            len(st.Snapshot.Links),
	}
}

func printState(w io.Writer, st *client.State) {
	p := message.NewPrinter(language.English)
	status := "⏸ paused"
	if st.Playing {
		status = "▶ playing"
	}
	p.Fprintf(w, "%s at %.0f ms (replay %d)\n", status, st.Elapsed, st.Replay)
	p.Fprintf(w, "  Admitted:  %d / %d\n", st.Snapshot.Admitted, st.Snapshot.Total)
	p.Fprintf(w, "  Block:     %s (+%.0f)\n", st.Snapshot.CurrentBlock, st.Snapshot.CurrentBlockDiff)
	p.Fprintf(w, "  Timestamp: %s\n", st.Snapshot.CurrentTimestamp)
	p.Fprintf(w, "  Active:    %d\n", st.Snapshot.ActiveCount)
	p.Fprintf(w, "  Volume:    %.2f\n", st.Snapshot.TotalVolume)
}
