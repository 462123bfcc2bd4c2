package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/2mur/transfers-timelapse-nc/service/dataset"
	"github.com/2mur/transfers-timelapse-nc/service/db"
	"github.com/2mur/transfers-timelapse-nc/service/replay"
	"github.com/urfave/cli/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// datasetFlags are the preprocessing knobs shared by inspect and replay.
func datasetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "filter",
			Usage:   "jq expression rows must satisfy to be kept (e.g. '.value | tonumber > 1000')",
			EnvVars: []string{"DATASET_FILTER"},
		},
		&cli.Float64Flag{
			Name:  "interval",
			Usage: "Virtual time between consecutive transfers in ms",
			Value: dataset.DefaultInterval,
		},
		&cli.Float64Flag{
			Name:  "persistence",
			Usage: "How long an edge stays live after arriving, in ms",
			Value: dataset.DefaultPersistence,
		},
		&cli.Float64Flag{
			Name:  "speed",
			Usage: "Edge traversal speed in layout units per ms",
			Value: dataset.DefaultSpeed,
		},
		&cli.Float64Flag{
			Name:  "extent",
			Usage: "Side of the square initial node positions are drawn from",
			Value: dataset.DefaultExtent,
		},
		&cli.Int64Flag{
			Name:  "seed",
			Usage: "Layout seed (0 for a time-based seed)",
			Value: 1,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "How long to wait for the source",
			Value: 2 * time.Minute,
		},
	}
}

func inspectDatasetCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Load a dataset and summarize it",
		ArgsUsage: "<uri>",
		Description: `Load a transfers dataset the same way the server does and print what survived
preprocessing.

The source may be a local path, a file:// or http(s):// URL serving the
columnar JSON document, or a postgres:// URI (rows are read from --dataset-table).

Example:
  timelapse dataset inspect ./transfers.json --filter '.value | tonumber > 0'`,
		Flags: datasetFlags(),
		Action: func(c *cli.Context) error {
			ds, err := loadFromCLI(c)
			if err != nil {
				return err
			}

			summary := summarize(ds)
			if c.Bool("json") {
				return writeJSONOutput(c.App.Writer, summary)
			}
			printSummary(c.App.Writer, summary)
			return nil
		},
	}
}

func replayDatasetCommand() *cli.Command {
	flags := append(datasetFlags(),
		&cli.StringFlag{
			Name:  "at",
			Usage: "Elapsed playback time in ms to replay up to, or 'inf' for the end",
			Value: "inf",
		},
		&cli.Float64Flag{
			Name:  "step",
			Usage: "Advance in frames of this many ms instead of a single jump (0 jumps)",
		},
		&cli.DurationFlag{
			Name:  "retention",
			Usage: "Drop edges this long after they stop being live (0 keeps them)",
		},
		&cli.IntFlag{
			Name:  "top",
			Usage: "Number of balances to show",
			Value: 10,
		},
	)

	return &cli.Command{
		Name:      "replay",
		Usage:     "Replay a dataset offline and print the resulting state",
		ArgsUsage: "<uri>",
		Description: `Run a replay session against a dataset without a server and print the
snapshot at the requested elapsed time along with the largest balances.

Every transfer with a start time at or before --at is admitted, so a single jump
and a frame-by-frame run reach the same balances.

Examples:
  timelapse dataset replay ./transfers.json --at 6000
  timelapse dataset replay postgres://localhost/chain --at inf --top 5 --json`,
		Flags: flags,
		Action: func(c *cli.Context) error {
			at, err := parseElapsed(c.String("at"))
			if err != nil {
				return err
			}
			if c.Float64("step") < 0 {
				return fmt.Errorf("--step must be >= 0")
			}

			ds, err := loadFromCLI(c)
			if err != nil {
				return err
			}
			if math.IsInf(at, 1) {
				at = ds.LastEndTime() + 1
			}

			session := replay.NewSession(ds,
				replay.WithRetention(float64(c.Duration("retention").Milliseconds())),
			)
			snap := advanceTo(session, at, c.Float64("step"))

			result := replayResult{
				Elapsed:          snap.Elapsed,
				Admitted:         snap.Admitted,
				Total:            snap.Total,
				Done:             snap.Done,
				ActiveCount:      snap.ActiveCount,
				TotalVolume:      snap.TotalVolume,
				CurrentBlock:     snap.CurrentBlock,
				CurrentBlockDiff: snap.CurrentBlockDiff,
				CurrentTimestamp: snap.CurrentTimestamp,
				Edges:            len(snap.Links),
				Balances:         topBalances(session, ds, c.Int("top")),
			}

			if c.Bool("json") {
				return writeJSONOutput(c.App.Writer, result)
			}
			printReplay(c.App.Writer, result)
			return nil
		},
	}
}

// loadFromCLI opens the source named by the first argument and preprocesses
// it with the command's flags. Unlike the server, failures are returned.
func loadFromCLI(c *cli.Context) (*dataset.Dataset, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("dataset uri is required")
	}
	uri := c.Args().First()
	logger := newLogger(c.String("log-level"))

	filter, err := dataset.NewFilter(c.String("filter"))
	if err != nil {
		return nil, err
	}

	ctx := c.Context
	if timeout := c.Duration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	src, closeSource, err := db.OpenSource(ctx, uri, c.String("dataset-table"), logger)
	if err != nil {
		return nil, err
	}
	defer closeSource()

	seed := c.Int64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return dataset.Load(ctx, src, dataset.Options{
		Interval:    c.Float64("interval"),
		Persistence: c.Float64("persistence"),
		Speed:       c.Float64("speed"),
		Extent:      c.Float64("extent"),
		Rand:        rand.New(rand.NewSource(seed)),
		Filter:      filter,
		Logger:      logger,
	})
}

// advanceTo drives the session to at, either in one call or in frames of step ms.
func advanceTo(s *replay.Session, at, step float64) replay.Snapshot {
	if step <= 0 {
		return s.Advance(at)
	}
	for t := 0.0; t < at; t += step {
		s.Advance(t)
	}
	return s.Advance(at)
}

func parseElapsed(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inf", "end", "":
		return math.Inf(1), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid --at %q: must be milliseconds or 'inf'", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid --at %q: must be >= 0", s)
	}
	return v, nil
}

type datasetSummary struct {
	Rows           int     `json:"rows"`
	Records        int     `json:"records"`
	Nodes          int     `json:"nodes"`
	Filtered       int     `json:"filtered"`
	Skipped        int     `json:"skipped"`
	FirstBlock     string  `json:"first_block,omitempty"`
	LastBlock      string  `json:"last_block,omitempty"`
	FirstTimestamp string  `json:"first_timestamp,omitempty"`
	LastTimestamp  string  `json:"last_timestamp,omitempty"`
	LastEndTime    float64 `json:"last_end_time"`
	TotalValue     float64 `json:"total_value"`
}

func summarize(ds *dataset.Dataset) datasetSummary {
	s := datasetSummary{
		Rows:        ds.Rows,
		Records:     ds.Len(),
		Nodes:       len(ds.Nodes),
		Filtered:    ds.Filtered,
		Skipped:     ds.Skipped,
		LastEndTime: ds.LastEndTime(),
		TotalValue:  ds.TotalValue(),
	}
	if n := ds.Len(); n > 0 {
		first, last := ds.Records[0], ds.Records[n-1]
		s.FirstBlock, s.LastBlock = first.Block, last.Block
		s.FirstTimestamp, s.LastTimestamp = first.Timestamp, last.Timestamp
	}
	return s
}

type balance struct {
	ID      string  `json:"id"`
	Balance float64 `json:"balance"`
}

type replayResult struct {
	Elapsed          float64   `json:"elapsed"`
	Admitted         int       `json:"admitted"`
	Total            int       `json:"total"`
	Done             bool      `json:"done"`
	ActiveCount      int       `json:"active_count"`
	TotalVolume      float64   `json:"total_volume"`
	CurrentBlock     string    `json:"current_block"`
	CurrentBlockDiff float64   `json:"current_block_diff"`
	CurrentTimestamp string    `json:"current_timestamp"`
	Edges            int       `json:"edges"`
	Balances         []balance `json:"balances"`
}

// topBalances returns the n largest non-zero balances, ties broken by address.
func topBalances(s *replay.Session, ds *dataset.Dataset, n int) []balance {
	out := make([]balance, 0, len(ds.Nodes))
	for _, node := range ds.Nodes {
		if b := s.Balance(node.ID); b != 0 {
			out = append(out, balance{ID: node.ID, Balance: b})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Balance != out[j].Balance {
			return out[i].Balance > out[j].Balance
		}
		return out[i].ID < out[j].ID
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func printSummary(w io.Writer, s datasetSummary) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Dataset\n")
	p.Fprintf(w, "─────────────────────────────────────────────────────\n")
	p.Fprintf(w, "Rows:         %d\n", s.Rows)
	p.Fprintf(w, "Records:      %d\n", s.Records)
	p.Fprintf(w, "Nodes:        %d\n", s.Nodes)
	p.Fprintf(w, "Filtered:     %d\n", s.Filtered)
	p.Fprintf(w, "Skipped:      %d\n", s.Skipped)
	if s.Records > 0 {
		p.Fprintf(w, "Blocks:       %s → %s\n", s.FirstBlock, s.LastBlock)
		p.Fprintf(w, "Timestamps:   %s → %s\n", s.FirstTimestamp, s.LastTimestamp)
	}
	p.Fprintf(w, "Duration:     %.0f ms\n", s.LastEndTime)
	p.Fprintf(w, "Total value:  %.2f\n", s.TotalValue)
}

func printReplay(w io.Writer, r replayResult) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Replay at %.0f ms\n", r.Elapsed)
	p.Fprintf(w, "─────────────────────────────────────────────────────\n")
	p.Fprintf(w, "Admitted:     %d / %d\n", r.Admitted, r.Total)
	p.Fprintf(w, "Done:         %t\n", r.Done)
	p.Fprintf(w, "Block:        %s (+%.0f)\n", r.CurrentBlock, r.CurrentBlockDiff)
	p.Fprintf(w, "Timestamp:    %s\n", r.CurrentTimestamp)
	p.Fprintf(w, "Active:       %d\n", r.ActiveCount)
	p.Fprintf(w, "Edges:        %d\n", r.Edges)
	p.Fprintf(w, "Volume:       %.2f\n", r.TotalVolume)

	if len(r.Balances) == 0 {
		return
	}
	p.Fprintf(w, "\nBalances\n")
	p.Fprintf(w, "─────────────────────────────────────────────────────\n")
	for _, b := range r.Balances {
		p.Fprintf(w, "%-44s %16.2f\n", b.ID, b.Balance)
	}
}

func writeJSONOutput(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newLogger writes diagnostics to stderr so they stay out of command output.
func newLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
