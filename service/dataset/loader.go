package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultInterval is the virtual time between two consecutive transfers, in ms.
	DefaultInterval = 600.0

	// DefaultPersistence is how long an edge stays live after its animation ends, in ms.
	DefaultPersistence = 8000.0

	// DefaultSpeed is the edge traversal speed in layout units per ms.
	DefaultSpeed = 0.25

	// DefaultExtent is the side of the square initial node positions are drawn from.
	DefaultExtent = 100.0
)

// Required column names (lower-cased).
const (
	ColumnFrom        = "from"
	ColumnTo          = "to"
	ColumnValue       = "value"
	ColumnBlockNumber = "blocknumber"
	ColumnTimestamp   = "timestamp"
)

// Options controls preprocessing.
type Options struct {
	Interval    float64
	Persistence float64
	Speed       float64
	Extent      float64

	// Rand draws the initial node positions. If nil, a time-seeded source is used.
	Rand *rand.Rand

	// Filter drops rows before sorting. May be nil.
	Filter *Filter

	Logger *slog.Logger
}

// DefaultOptions returns the standard playback constants.
func DefaultOptions() Options {
	return Options{
		Interval:    DefaultInterval,
		Persistence: DefaultPersistence,
		Speed:       DefaultSpeed,
		Extent:      DefaultExtent,
	}
}

// Source fetches the columnar table from somewhere.
type Source interface {
	Fetch(ctx context.Context) (Table, error)
}

// Load fetches a table from src and processes it.
// A fetch or decode failure is returned as-is; callers log it and run with
// an empty dataset.
func Load(ctx context.Context, src Source, opts Options) (*Dataset, error) {
	table, err := src.Fetch(ctx)
	if err != nil {
		return &Dataset{}, fmt.Errorf("failed to fetch dataset: %w", err)
	}
	return Process(table, opts), nil
}

// Decode reads the columnar JSON document. Numbers are kept as json.Number
// so block numbers and timestamps display exactly as given.
func Decode(r io.Reader) (Table, error) {
	var t Table
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&t); err != nil {
		return Table{}, fmt.Errorf("failed to decode dataset: %w", err)
	}
	return t, nil
}

// VirtualTime maps an admission index to its start time on the synthetic
// timeline. Transfers are evenly spaced regardless of their real timestamps.
func VirtualTime(k int, interval float64) float64 {
	return float64(k) * interval
}

// Transpose turns columns into rows keyed by lower-cased column name.
// The row count is taken from the first column; shorter columns leave the
// corresponding cells unset.
func Transpose(t Table) []Row {
	if len(t.Columns) == 0 {
		return nil
	}

	n := len(t.Columns[0].Values)
	rows := make([]Row, n)
	for i := 0; i < n; i++ {
		row := make(Row, len(t.Columns))
		for _, col := range t.Columns {
			if i < len(col.Values) {
				row[strings.ToLower(col.Name)] = col.Values[i]
			}
		}
		rows[i] = row
	}
	return rows
}

// SortRows sorts rows by numeric timestamp, ascending. The sort is stable so
// rows sharing a timestamp keep their input order.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return number(rows[i][ColumnTimestamp]) < number(rows[j][ColumnTimestamp])
	})
}

// BuildNodes collects every distinct endpoint in first-appearance order and
// assigns each a random position in [-extent/2, extent/2) on both axes.
func BuildNodes(rows []Row, rng *rand.Rand, extent float64) []Node {
	seen := make(map[string]struct{})
	var nodes []Node

	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		nodes = append(nodes, Node{
			ID: id,
			X:  (rng.Float64() - 0.5) * extent,
			Y:  (rng.Float64() - 0.5) * extent,
		})
	}

	for _, row := range rows {
		add(endpoint(row[ColumnFrom]))
		add(endpoint(row[ColumnTo]))
	}
	return nodes
}

// Process runs the full preprocessing pipeline over a table.
func Process(t Table, opts Options) *Dataset {
	opts = withDefaults(opts)

	ds := &Dataset{}
	rows := Transpose(t)
	ds.Rows = len(rows)
	if len(rows) == 0 {
		return ds
	}

	if opts.Filter != nil {
		kept := rows[:0]
		for _, row := range rows {
			if opts.Filter.Match(row) {
				kept = append(kept, row)
			}
		}
		ds.Filtered = len(rows) - len(kept)
		rows = kept
	}

	SortRows(rows)

	ds.Nodes = BuildNodes(rows, opts.Rand, opts.Extent)
	index := make(map[string]int, len(ds.Nodes))
	for i, n := range ds.Nodes {
		index[n.ID] = i
	}

	var prevBlock float64
	for _, row := range rows {
		from := endpoint(row[ColumnFrom])
		to := endpoint(row[ColumnTo])
		si, okFrom := index[from]
		ti, okTo := index[to]
		if !okFrom || !okTo || from == to {
			ds.Skipped++
			continue
		}

		k := len(ds.Records)
		block := number(row[ColumnBlockNumber])
		if k == 0 {
			prevBlock = block
		}

		src, dst := ds.Nodes[si], ds.Nodes[ti]
		start := VirtualTime(k, opts.Interval)
		duration := math.Hypot(dst.X-src.X, dst.Y-src.Y) / opts.Speed

		ds.Records = append(ds.Records, Record{
			From:           from,
			To:             to,
			Value:          number(row[ColumnValue]),
			BlockNumber:    block,
			Block:          label(row[ColumnBlockNumber]),
			Timestamp:      label(row[ColumnTimestamp]),
			NormalizedTime: start,
			BlockDiff:      math.Max(0, block-prevBlock),
			Duration:       duration,
			EndTime:        start + duration + opts.Persistence,
		})
		prevBlock = block
	}

	if opts.Logger != nil {
		opts.Logger.Debug("dataset processed",
			"rows", ds.Rows,
			"records", len(ds.Records),
			"nodes", len(ds.Nodes),
			"filtered", ds.Filtered,
			"skipped", ds.Skipped,
		)
	}
	return ds
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.Persistence < 0 {
		opts.Persistence = def.Persistence
	}
	if opts.Speed <= 0 {
		opts.Speed = def.Speed
	}
	if opts.Extent <= 0 {
		opts.Extent = def.Extent
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return opts
}

// number coerces a cell to float64. Anything that does not parse, including
// NaN, becomes 0.
func number(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	case bool:
		if x {
			f = 1
		}
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// endpoint renders an address cell. Falsy cells (null, false, empty, numeric
// zero) count as missing and render as "".
func endpoint(v any) string {
	switch x := v.(type) {
	case json.Number, float64, float32, int, int64:
		if number(x) == 0 {
			return ""
		}
	}
	return label(v)
}

// label renders a cell as display text. Missing cells render as "".
func label(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "true"
		}
		return ""
	default:
		return fmt.Sprint(x)
	}
}
