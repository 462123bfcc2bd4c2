package nats

import (
	"strings"
	"time"

	"github.com/2mur/transfers-timelapse-nc/service/dataset"
)

// TransferEvent is published to "transfers.{from_address}" each time the
// replay admits a transfer.
type TransferEvent struct {
	From  string  `json:"from"`
	To    string  `json:"to"`
	Value float64 `json:"value"`

	// Chain position as it appears in the dataset
	BlockNumber string  `json:"blocknumber"`
	BlockDiff   float64 `json:"block_diff"`
	Timestamp   string  `json:"timestamp"`

	// Position on the synthetic timeline, in ms
	NormalizedTime float64 `json:"normalized_time"`
	EndTime        float64 `json:"end_time"`

	// Replay counts restarts so consumers can tell runs apart
	Replay int `json:"replay"`

	PublishedAt time.Time `json:"published_at"`
}

// FromRecord converts an admitted record to a TransferEvent for publishing.
func FromRecord(rec dataset.Record, replay int) *TransferEvent {
	return &TransferEvent{
		From:           rec.From,
		To:             rec.To,
		Value:          rec.Value,
		BlockNumber:    rec.Block,
		BlockDiff:      rec.BlockDiff,
		Timestamp:      rec.Timestamp,
		NormalizedTime: rec.NormalizedTime,
		EndTime:        rec.EndTime,
		Replay:         replay,
		PublishedAt:    time.Now().UTC(),
	}
}

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

// Subject returns the subject an event for the given sender is published on.
func Subject(from string) string {
	if from == "" {
		from = "_"
	}
	return SubjectPrefix + subjectReplacer.Replace(from)
}
