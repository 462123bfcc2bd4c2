package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/2mur/transfers-timelapse-nc/service/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRecord(t *testing.T) {
	rec := dataset.Record{
		From:           "A",
		To:             "B",
		Value:          12.5,
		Block:          "19000000",
		BlockDiff:      2,
		Timestamp:      "1700000000",
		NormalizedTime: 1200,
		EndTime:        9300,
	}

	event := FromRecord(rec, 3)
	assert.Equal(t, "A", event.From)
	assert.Equal(t, "B", event.To)
	assert.Equal(t, 12.5, event.Value)
	assert.Equal(t, "19000000", event.BlockNumber)
	assert.Equal(t, 2.0, event.BlockDiff)
	assert.Equal(t, 1200.0, event.NormalizedTime)
	assert.Equal(t, 3, event.Replay)
	assert.False(t, event.PublishedAt.IsZero())

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"blocknumber":"19000000"`)
	assert.Contains(t, string(data), `"normalized_time":1200`)
}

func TestSubject(t *testing.T) {
	tests := []struct {
		from string
		want string
	}{
		{from: "0xabc", want: "transfers.0xabc"},
		{from: "So1ana1111", want: "transfers.So1ana1111"},
		{from: "a.b", want: "transfers.a_b"},
		{from: "a*b>c d", want: "transfers.a_b_c_d"},
		{from: "", want: "transfers._"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Subject(tt.from))
	}
}

func TestMockPublisher(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()

	require.NoError(t, m.PublishTransfer(ctx, &TransferEvent{From: "A"}))
	assert.Equal(t, 1, m.GetPublishedEventCount())

	m.SetPublishError(errors.New("boom"))
	require.Error(t, m.PublishTransfer(ctx, &TransferEvent{From: "B"}))
	assert.Len(t, m.GetPublishedEvents(), 1)

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}
