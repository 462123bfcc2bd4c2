// Package playback drives a replay session from a wall clock.
//
// A Controller owns one replay.Session and one Clock and touches them only
// from the goroutine running Run. Control commands and state reads are sent
// to that goroutine over a channel, so the session needs no locking.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2mur/transfers-timelapse-nc/service/dataset"
	"github.com/2mur/transfers-timelapse-nc/service/metrics"
	natspkg "github.com/2mur/transfers-timelapse-nc/service/nats"
	"github.com/2mur/transfers-timelapse-nc/service/replay"
)

var (
	// ErrEmptyDataset is returned by controls when there is nothing to play.
	ErrEmptyDataset = errors.New("dataset is empty")

	// ErrStopped is returned once the controller's run loop has exited.
	ErrStopped = errors.New("playback controller stopped")

	// ErrAlreadyRunning is returned by Run when the loop was already started.
	ErrAlreadyRunning = errors.New("playback controller already running")
)

const (
	// DefaultFrameInterval approximates a 60Hz animation frame.
	DefaultFrameInterval = 16 * time.Millisecond

	publishQueueSize = 1024
)

// State is the playback state at one instant.
type State struct {
	Playing  bool            `json:"playing"`
	Elapsed  float64         `json:"elapsed"`
	Replay   int             `json:"replay"`
	Snapshot replay.Snapshot `json:"snapshot"`
}

// Config holds the Controller's dependencies. Everything except Dataset is optional.
type Config struct {
	Dataset       *dataset.Dataset
	FrameInterval time.Duration
	Retention     float64
	Autoplay      bool

	Publisher natspkg.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// Now is the wall clock; defaults to time.Now.
	Now func() time.Time
}

type commandKind int

const (
	cmdState commandKind = iota
	cmdPlay
	cmdPause
	cmdToggle
	cmdRestart
)

func (k commandKind) String() string {
	switch k {
	case cmdPlay:
		return "play"
	case cmdPause:
		return "pause"
	case cmdToggle:
		return "toggle"
	case cmdRestart:
		return "restart"
	default:
		return "state"
	}
}

type command struct {
	kind  commandKind
	reply chan result
}

type result struct {
	state State
	err   error
}

// Controller advances a replay session once per frame and fans the
// resulting snapshots out to subscribers.
type Controller struct {
	ds      *dataset.Dataset
	session *replay.Session
	clock   *Clock
	frame   time.Duration
	now     func() time.Time

	publisher natspkg.Publisher
	publishCh chan *natspkg.TransferEvent
	metrics   *metrics.Metrics
	logger    *slog.Logger

	cmds    chan command
	done    chan struct{}
	started atomic.Bool

	// loop-owned
	replayNo int
	latest   replay.Snapshot
	dirty    bool

	mu     sync.Mutex
	subs   map[int]chan State
	nextID int
}

// NewController creates a controller for cfg.Dataset. The clock starts
// paused unless cfg.Autoplay is set and the dataset is non-empty.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Dataset == nil {
		cfg.Dataset = &dataset.Dataset{}
	}

	c := &Controller{
		ds:        cfg.Dataset,
		clock:     NewClock(!cfg.Dataset.Empty()),
		frame:     cfg.FrameInterval,
		now:       cfg.Now,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "playback"),
		cmds:      make(chan command),
		done:      make(chan struct{}),
		dirty:     true,
		subs:      make(map[int]chan State),
	}
	if c.publisher != nil {
		c.publishCh = make(chan *natspkg.TransferEvent, publishQueueSize)
	}

	c.session = replay.NewSession(cfg.Dataset,
		replay.WithRetention(cfg.Retention),
		replay.WithAdmitHook(c.admitted),
	)
	c.latest = replay.EmptySnapshot()

	if cfg.Autoplay && !cfg.Dataset.Empty() {
		c.clock.Play()
	}
	return c
}

// Dataset returns the dataset being played.
func (c *Controller) Dataset() *dataset.Dataset {
	return c.ds
}

// Run drives the frame loop until ctx is done. Only the first call runs the
// loop; later calls return ErrAlreadyRunning.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	var wg sync.WaitGroup
	if c.publishCh != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.publishLoop(ctx)
		}()
	}
	defer wg.Wait()

	ticker := time.NewTicker(c.frame)
	defer ticker.Stop()

	c.logger.Info("playback loop started",
		"records", c.ds.Len(),
		"nodes", len(c.ds.Nodes),
		"frame_interval", c.frame,
		"playing", c.clock.Playing(),
	)

	c.clock.Tick(c.now())
	c.step()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("playback loop stopped", "elapsed", c.clock.Elapsed())
			return ctx.Err()

		case <-ticker.C:
			c.clock.Tick(c.now())
			c.step()

		case cmd := <-c.cmds:
			cmd.reply <- c.apply(cmd.kind)
		}
	}
}

// step recomputes the snapshot when elapsed time changed or a command
// invalidated it, and broadcasts the result.
func (c *Controller) step() {
	elapsed := c.clock.Elapsed()
	if !c.dirty && elapsed == c.latest.Elapsed {
		return
	}

	start := time.Now()
	c.latest = c.session.Advance(elapsed)
	c.dirty = false
	c.broadcast(c.state())

	if c.metrics != nil {
		c.metrics.RecordFrame(time.Since(start).Seconds(), elapsed, c.latest.ActiveCount, len(c.latest.Links), c.latest.TotalVolume)
	}
}

func (c *Controller) apply(kind commandKind) result {
	if kind == cmdState {
		// Catch up so the caller sees the current instant, not the last frame.
		c.clock.Tick(c.now())
		c.step()
		return result{state: c.state()}
	}

	var err error
	if c.ds.Empty() {
		err = ErrEmptyDataset
	} else {
		now := c.now()
		c.clock.Tick(now)
		switch kind {
		case cmdPlay:
			c.clock.Play()
		case cmdPause:
			c.clock.Pause()
		case cmdToggle:
			c.clock.Toggle()
		case cmdRestart:
			c.session.Reset()
			c.clock.Restart(now)
			c.replayNo++
			if c.metrics != nil {
				c.metrics.RecordRestart()
			}
		}
		c.dirty = true
		c.step()
	}

	if c.metrics != nil {
		c.metrics.RecordControl(kind.String(), err)
		c.metrics.RecordPlaying(c.clock.Playing())
	}
	c.logger.Debug("playback control",
		"action", kind.String(),
		"playing", c.clock.Playing(),
		"elapsed", c.clock.Elapsed(),
		"error", err,
	)
	return result{state: c.state(), err: err}
}

func (c *Controller) state() State {
	return State{
		Playing:  c.clock.Playing(),
		Elapsed:  c.clock.Elapsed(),
		Replay:   c.replayNo,
		Snapshot: c.latest,
	}
}

func (c *Controller) send(ctx context.Context, kind commandKind) (State, error) {
	cmd := command{kind: kind, reply: make(chan result, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return State{}, ErrStopped
	case <-ctx.Done():
		return State{}, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res.state, res.err
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// State returns the current playback state.
func (c *Controller) State(ctx context.Context) (State, error) {
	return c.send(ctx, cmdState)
}

// Play starts or resumes playback.
func (c *Controller) Play(ctx context.Context) (State, error) {
	return c.send(ctx, cmdPlay)
}

// Pause freezes playback.
func (c *Controller) Pause(ctx context.Context) (State, error) {
	return c.send(ctx, cmdPause)
}

// Toggle flips between playing and paused.
func (c *Controller) Toggle(ctx context.Context) (State, error) {
	return c.send(ctx, cmdToggle)
}

// Restart clears all aggregate state and plays from zero.
func (c *Controller) Restart(ctx context.Context) (State, error) {
	return c.send(ctx, cmdRestart)
}

// Subscribe registers for a state on every recomputed frame. A subscriber
// that falls more than buffer frames behind misses frames rather than
// slowing the loop. Call cancel to unsubscribe; the channel is then closed.
func (c *Controller) Subscribe(buffer int) (<-chan State, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan State, buffer)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of registered subscribers.
func (c *Controller) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *Controller) broadcast(st State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- st:
		default:
			if c.metrics != nil {
				c.metrics.RecordSnapshotDropped()
			}
		}
	}
}

// admitted runs inside Session.Advance on the loop goroutine.
func (c *Controller) admitted(rec dataset.Record) {
	if c.metrics != nil {
		c.metrics.RecordAdmitted()
	}
	if c.publishCh == nil {
		return
	}

	select {
	case c.publishCh <- natspkg.FromRecord(rec, c.replayNo):
	default:
		c.logger.Warn("publish queue full, dropping transfer event",
			"from", rec.From,
			"to", rec.To,
		)
	}
}

func (c *Controller) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.publishCh:
			start := time.Now()
			err := c.publisher.PublishTransfer(ctx, event)
			if c.metrics != nil {
				c.metrics.RecordNATSPublish(err, time.Since(start).Seconds())
			}
			if err != nil {
				c.logger.Error("failed to publish transfer event",
					"from", event.From,
					"to", event.To,
					"error", err,
				)
			}
		}
	}
}
