package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/2mur/transfers-timelapse-nc/service/config"
	"github.com/2mur/transfers-timelapse-nc/service/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceKind(t *testing.T) {
	assert.Equal(t, "postgres", sourceKind("postgres://u:p@db/chain"))
	assert.Equal(t, "http", sourceKind("https://example.com/transfers.json"))
	assert.Equal(t, "file", sourceKind("transfers.json"))
	assert.Equal(t, "file", sourceKind("file:///data/transfers.json"))
}

func TestRedactURI(t *testing.T) {
	assert.Equal(t, "postgres://***@db:5432/chain", redactURI("postgres://user:secret@db:5432/chain"))
	assert.Equal(t, "postgresql://db/chain", redactURI("postgresql://db/chain"))
	assert.Equal(t, "https://example.com/a.json", redactURI("https://example.com/a.json"))
}

func testConfig(uri string) *config.Config {
	return &config.Config{
		LogLevel:        "error",
		DatasetURI:      uri,
		DatasetTable:    "transfers",
		TxInterval:      600,
		EdgePersistence: 8000,
		EdgeSpeed:       0.25,
		LayoutExtent:    100,
		LayoutSeed:      7,
	}
}

func TestLoadDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transfers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"columns":[
		{"name":"from","values":["a","b","c"]},
		{"name":"to","values":["b","c","c"]},
		{"name":"value","values":[5,6,7]},
		{"name":"blocknumber","values":[10,11,12]},
		{"name":"timestamp","values":[1,2,3]}
	]}`), 0o644))

	m := metrics.NewMetrics(prometheus.NewRegistry())
	logger := setupLogger("error")

	ds := loadDataset(context.Background(), testConfig(path), m, logger)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, 1, ds.Skipped)

	// The same seed lays nodes out identically.
	again := loadDataset(context.Background(), testConfig(path), m, logger)
	assert.Equal(t, ds.Nodes, again.Nodes)
}

func TestLoadDataset_FailuresYieldEmpty(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	logger := setupLogger("error")

	ds := loadDataset(context.Background(), testConfig(filepath.Join(t.TempDir(), "missing.json")), m, logger)
	require.NotNil(t, ds)
	assert.True(t, ds.Empty())

	cfg := testConfig("transfers.json")
	cfg.DatasetFilter = "this is not jq ("
	ds = loadDataset(context.Background(), cfg, m, logger)
	require.NotNil(t, ds)
	assert.True(t, ds.Empty())
}
