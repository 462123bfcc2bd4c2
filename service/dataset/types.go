package dataset

// Column is one named column of the columnar transfers document.
type Column struct {
	Name   string `json:"name"`
	Values []any  `json:"values"`
}

// Table is the columnar JSON document the loader consumes:
//
//	{ "columns": [ {"name": "from", "values": [...]}, ... ] }
type Table struct {
	Columns []Column `json:"columns"`
}

// Row is a single transposed row keyed by lower-cased column name.
type Row map[string]any

// Node is an address with its initial layout position.
type Node struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Record is a transfer enriched with its animation parameters.
// NormalizedTime is a synthetic start time assigned by admission order,
// not the real timestamp.
type Record struct {
	From           string  `json:"from"`
	To             string  `json:"to"`
	Value          float64 `json:"value"`
	BlockNumber    float64 `json:"blocknumber"`
	Block          string  `json:"block"`
	Timestamp      string  `json:"timestamp"`
	NormalizedTime float64 `json:"normalizedTime"`
	BlockDiff      float64 `json:"blockDiff"`
	Duration       float64 `json:"duration"`
	EndTime        float64 `json:"endTime"`
}

// Dataset is the immutable output of a load: processed records in admission
// order and the known node set in first-appearance order.
type Dataset struct {
	Records []Record `json:"records"`
	Nodes   []Node   `json:"nodes"`

	// Rows is the number of transposed input rows.
	Rows int `json:"rows"`
	// Filtered counts rows dropped by the row filter.
	Filtered int `json:"filtered"`
	// Skipped counts rows dropped for a missing endpoint or a self-transfer.
	Skipped int `json:"skipped"`
}

// Len returns the number of processed records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

// Empty reports whether there is nothing to play.
func (d *Dataset) Empty() bool {
	return d.Len() == 0
}

// LastEndTime returns the largest EndTime of any record, which is the
// elapsed time after which every edge has aged out.
func (d *Dataset) LastEndTime() float64 {
	var last float64
	if d == nil {
		return last
	}
	for _, r := range d.Records {
		if r.EndTime > last {
			last = r.EndTime
		}
	}
	return last
}

// TotalValue sums Value over all processed records.
func (d *Dataset) TotalValue() float64 {
	var total float64
	if d == nil {
		return total
	}
	for _, r := range d.Records {
		total += r.Value
	}
	return total
}
