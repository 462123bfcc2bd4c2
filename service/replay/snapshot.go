package replay

import (
	"math"

	"github.com/2mur/transfers-timelapse-nc/service/dataset"
)

const (
	// NoBlock is shown for the block and timestamp labels before the first admission.
	NoBlock = "-"

	// fadeWindow is how far past its end (in units of its own duration) an
	// edge keeps drawing its trail.
	fadeWindow = 1.2

	// curvature offsets the quadratic control point from the chord midpoint.
	curvature = 0.25
)

// NodeState is a node as it appears in a snapshot.
type NodeState struct {
	ID         string  `json:"id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Balance    float64 `json:"balance"`
	IsPulse    bool    `json:"isPulse"`
	LastActive float64 `json:"lastActive"`
	Stale      bool    `json:"stale"`
}

// IsStale reports whether the node should be drawn dimmed: nothing held and
// no live edge touching it.
func (n NodeState) IsStale() bool {
	return n.Balance <= 0 && !n.IsPulse
}

// Edge is an admitted transfer as it appears in a snapshot.
type Edge struct {
	dataset.Record

	Source       string  `json:"source"`
	Target       string  `json:"target"`
	Live         bool    `json:"live"`
	Progress     float64 `json:"progress"`
	TrailOpacity float64 `json:"trailOpacity"`
	Visible      bool    `json:"visible"`
	Traveling    bool    `json:"traveling"`

	// Curve geometry in layout coordinates. CX/CY is the control point and
	// HeadX/HeadY the head position at the snapshot's elapsed.
	CX    float64 `json:"cx"`
	CY    float64 `json:"cy"`
	HeadX float64 `json:"headX"`
	HeadY float64 `json:"headY"`
}

// ProgressAt returns how far along its path the edge's head is at elapsed:
// 0 at NormalizedTime, 1 on arrival. Zero-length edges jump straight past
// the fade window.
func (e Edge) ProgressAt(elapsed float64) float64 {
	if e.Duration <= 0 {
		switch {
		case elapsed < e.NormalizedTime:
			return -1
		case elapsed == e.NormalizedTime:
			return 1
		default:
			return fadeWindow + 1
		}
	}
	return (elapsed - e.NormalizedTime) / e.Duration
}

// VisibleAt reports whether the trail is drawn at elapsed.
func (e Edge) VisibleAt(elapsed float64) bool {
	p := e.ProgressAt(elapsed)
	return p >= 0 && p <= fadeWindow
}

// TravelingAt reports whether the head dot is still in flight at elapsed.
func (e Edge) TravelingAt(elapsed float64) bool {
	p := e.ProgressAt(elapsed)
	return p >= 0 && p <= 1
}

// TrailOpacityAt returns the trail alpha at elapsed.
func (e Edge) TrailOpacityAt(elapsed float64) float64 {
	if !e.VisibleAt(elapsed) {
		return 0
	}
	return math.Max(0, (fadeWindow-e.ProgressAt(elapsed))*0.4)
}

// ControlPoint returns the quadratic Bézier control point bending the edge
// from (x1,y1) to (x2,y2) to the left of its direction of travel.
func ControlPoint(x1, y1, x2, y2 float64) (float64, float64) {
	cx := (x1+x2)/2 + (y2-y1)*curvature
	cy := (y1+y2)/2 - (x2-x1)*curvature
	return cx, cy
}

// PointAt evaluates the quadratic curve (x1,y1)-(cx,cy)-(x2,y2) at t,
// clamped to [0, 1].
func PointAt(x1, y1, cx, cy, x2, y2, t float64) (float64, float64) {
	t = math.Max(0, math.Min(t, 1))
	inv := 1 - t
	x := inv*inv*x1 + 2*inv*t*cx + t*t*x2
	y := inv*inv*y1 + 2*inv*t*cy + t*t*y2
	return x, y
}

// Snapshot is everything the render surface needs for one frame.
type Snapshot struct {
	Nodes []NodeState `json:"nodes"`
	Links []Edge      `json:"links"`

	TotalVolume      float64 `json:"totalVolume"`
	ActiveCount      int     `json:"activeCount"`
	CurrentBlock     string  `json:"currentBlock"`
	CurrentBlockDiff float64 `json:"currentBlockDiff"`
	CurrentTimestamp string  `json:"currentTimestamp"`

	Elapsed  float64 `json:"elapsed"`
	Admitted int     `json:"admitted"`
	Total    int     `json:"total"`
	Done     bool    `json:"done"`
}

// EmptySnapshot is the snapshot of a session with nothing admitted.
func EmptySnapshot() Snapshot {
	return Snapshot{
		Nodes:            []NodeState{},
		Links:            []Edge{},
		CurrentBlock:     NoBlock,
		CurrentTimestamp: NoBlock,
	}
}

func clampProgress(p float64) float64 {
	return math.Max(-1, math.Min(p, fadeWindow+1))
}
