// Package replay advances a deterministic replay of a processed dataset.
//
// A Session owns all mutable aggregate state (cursor, balances, last-active
// stamps, active edges, running totals). It is not safe for concurrent use;
// exactly one goroutine is expected to own it, see playback.Controller.
package replay

import (
	"math"

	"github.com/2mur/transfers-timelapse-nc/service/dataset"
)

// Option configures a Session.
type Option func(*Session)

// WithRetention evicts admitted edges once elapsed passes endTime+retention.
// Zero or negative keeps every admitted edge for the life of the session.
func WithRetention(retention float64) Option {
	return func(s *Session) {
		s.retention = retention
	}
}

// WithAdmitHook registers fn to be called once for every admitted record, in
// admission order, from inside Advance.
func WithAdmitHook(fn func(dataset.Record)) Option {
	return func(s *Session) {
		s.onAdmit = fn
	}
}

// Session is the replay state of one playback.
type Session struct {
	ds        *dataset.Dataset
	positions map[string]dataset.Node
	retention float64
	onAdmit   func(dataset.Record)

	cursor     int
	active     []int
	balances   map[string]float64
	lastActive map[string]float64
	volume     float64
	block      string
	blockDiff  float64
	timestamp  string
}

// NewSession creates a session over ds positioned before the first record.
func NewSession(ds *dataset.Dataset, opts ...Option) *Session {
	if ds == nil {
		ds = &dataset.Dataset{}
	}
	s := &Session{
		ds:         ds,
		balances:   make(map[string]float64),
		lastActive: make(map[string]float64),
		positions:  make(map[string]dataset.Node, len(ds.Nodes)),
	}
	for _, n := range ds.Nodes {
		s.positions[n.ID] = n
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Reset()
	return s
}

// Dataset returns the dataset being replayed.
func (s *Session) Dataset() *dataset.Dataset {
	return s.ds
}

// Cursor returns the index of the next record to admit.
func (s *Session) Cursor() int {
	return s.cursor
}

// ActiveEdges returns the number of admitted edges still retained.
func (s *Session) ActiveEdges() int {
	return len(s.active)
}

// Balance returns the running balance of id.
func (s *Session) Balance(id string) float64 {
	return s.balances[id]
}

// Reset returns the session to its initial state. The next Advance admits
// from the first record again.
func (s *Session) Reset() {
	s.cursor = 0
	s.active = s.active[:0]
	clear(s.balances)
	clear(s.lastActive)
	s.volume = 0
	s.block = NoBlock
	s.blockDiff = 0
	s.timestamp = NoBlock
}

// Advance moves the session to elapsed and returns the resulting snapshot.
// Elapsed is expected to be non-decreasing between resets; an earlier value
// admits nothing new but still recomputes liveness.
func (s *Session) Advance(elapsed float64) Snapshot {
	if s.ds.Empty() {
		snap := EmptySnapshot()
		snap.Elapsed = elapsed
		snap.Done = true
		return snap
	}

	records := s.ds.Records

	// Admission.
	for s.cursor < len(records) && records[s.cursor].NormalizedTime <= elapsed {
		rec := records[s.cursor]
		s.active = append(s.active, s.cursor)

		s.balances[rec.From] = saturate(s.balances[rec.From] - rec.Value)
		s.balances[rec.To] = saturate(s.balances[rec.To] + rec.Value)
		s.volume = saturate(s.volume + rec.Value)
		s.block = rec.Block
		s.blockDiff = rec.BlockDiff
		s.timestamp = rec.Timestamp

		s.cursor++
		if s.onAdmit != nil {
			s.onAdmit(rec)
		}
	}

	if s.retention > 0 {
		s.evict(elapsed)
	}

	// Windowing.
	pulsing := make(map[string]struct{})
	links := make([]Edge, len(s.active))
	for i, idx := range s.active {
		rec := records[idx]
		live := elapsed <= rec.EndTime
		if live {
			pulsing[rec.From] = struct{}{}
			pulsing[rec.To] = struct{}{}
			s.lastActive[rec.From] = elapsed
			s.lastActive[rec.To] = elapsed
		}

		e := Edge{
			Record: rec,
			Source: rec.From,
			Target: rec.To,
			Live:   live,
		}
		e.Progress = clampProgress(e.ProgressAt(elapsed))
		e.TrailOpacity = e.TrailOpacityAt(elapsed)
		e.Visible = e.VisibleAt(elapsed)
		e.Traveling = e.TravelingAt(elapsed)

		src, dst := s.positions[rec.From], s.positions[rec.To]
		e.CX, e.CY = ControlPoint(src.X, src.Y, dst.X, dst.Y)
		e.HeadX, e.HeadY = PointAt(src.X, src.Y, e.CX, e.CY, dst.X, dst.Y, e.Progress)
		links[i] = e
	}

	// Snapshot assembly.
	nodes := make([]NodeState, 0, len(s.lastActive))
	for _, n := range s.ds.Nodes {
		last := s.lastActive[n.ID]
		if last <= 0 {
			continue
		}
		_, pulse := pulsing[n.ID]
		ns := NodeState{
			ID:         n.ID,
			X:          n.X,
			Y:          n.Y,
			Balance:    s.balances[n.ID],
			IsPulse:    pulse,
			LastActive: last,
		}
		ns.Stale = ns.IsStale()
		nodes = append(nodes, ns)
	}

	return Snapshot{
		Nodes:            nodes,
		Links:            links,
		TotalVolume:      s.volume,
		ActiveCount:      len(pulsing),
		CurrentBlock:     s.block,
		CurrentBlockDiff: s.blockDiff,
		CurrentTimestamp: s.timestamp,
		Elapsed:          elapsed,
		Admitted:         s.cursor,
		Total:            len(records),
		Done:             s.cursor == len(records) && len(pulsing) == 0,
	}
}

// evict drops edges that stopped being live more than retention ago.
// Balances, volume and last-active stamps are unaffected.
func (s *Session) evict(elapsed float64) {
	records := s.ds.Records
	kept := s.active[:0]
	for _, idx := range s.active {
		if records[idx].EndTime+s.retention >= elapsed {
			kept = append(kept, idx)
		}
	}
	s.active = kept
}

// saturate clamps an overflowing running sum to the largest finite value of
// the same sign so snapshots always encode.
func saturate(v float64) float64 {
	switch {
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	case math.IsNaN(v):
		return 0
	}
	return v
}
