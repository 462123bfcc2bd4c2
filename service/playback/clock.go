package playback

import "time"

// Clock accumulates elapsed playback time in milliseconds.
//
// Tick is called once per frame with the current wall time. While playing
// (and only if there is something to play) the delta since the previous tick
// is added to the accumulator; otherwise the accumulator is frozen. The
// previous-tick time is always updated, so resuming never counts the time
// spent paused.
type Clock struct {
	elapsed float64
	playing bool
	hasData bool
	last    time.Time
}

// NewClock returns a paused clock at zero. hasData gates all advancement.
func NewClock(hasData bool) *Clock {
	return &Clock{hasData: hasData}
}

// Tick advances the clock to now and returns the elapsed time.
func (c *Clock) Tick(now time.Time) float64 {
	if !c.last.IsZero() && c.playing && c.hasData {
		if delta := now.Sub(c.last); delta > 0 {
			c.elapsed += float64(delta) / float64(time.Millisecond)
		}
	}
	c.last = now
	return c.elapsed
}

// Elapsed returns the accumulated time in milliseconds.
func (c *Clock) Elapsed() float64 {
	return c.elapsed
}

// Playing reports whether the clock is running.
func (c *Clock) Playing() bool {
	return c.playing
}

// Play starts the clock.
func (c *Clock) Play() {
	c.playing = true
}

// Pause freezes the clock.
func (c *Clock) Pause() {
	c.playing = false
}

// Toggle flips between playing and paused and returns the new state.
func (c *Clock) Toggle() bool {
	c.playing = !c.playing
	return c.playing
}

// Restart zeroes the clock and starts it.
func (c *Clock) Restart(now time.Time) {
	c.elapsed = 0
	c.playing = true
	c.last = now
}
