package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "transfers.json", cfg.DatasetURI)
	assert.Equal(t, "", cfg.DatasetFilter)
	assert.Equal(t, "transfers", cfg.DatasetTable)
	assert.Equal(t, 600.0, cfg.TxInterval)
	assert.Equal(t, 8000.0, cfg.EdgePersistence)
	assert.Equal(t, 0.25, cfg.EdgeSpeed)
	assert.Equal(t, 0.0, cfg.EdgeRetention)
	assert.Equal(t, 100.0, cfg.LayoutExtent)
	assert.Equal(t, int64(0), cfg.LayoutSeed)
	assert.Equal(t, 16*time.Millisecond, cfg.FrameInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.SSEInterval)
	assert.False(t, cfg.Autoplay)
	assert.Equal(t, "", cfg.NATSURL)
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATASET_URI", "postgres://localhost/chain")
	t.Setenv("DATASET_FILTER", `.value > 100`)
	t.Setenv("DATASET_TABLE", "public.erc20_transfers")
	t.Setenv("TX_INTERVAL_MS", "250")
	t.Setenv("EDGE_PERSISTENCE_MS", "4000")
	t.Setenv("EDGE_SPEED", "0.5")
	t.Setenv("EDGE_RETENTION_MS", "30000")
	t.Setenv("LAYOUT_EXTENT", "200")
	t.Setenv("LAYOUT_SEED", "42")
	t.Setenv("FRAME_INTERVAL", "33ms")
	t.Setenv("SSE_INTERVAL", "250ms")
	t.Setenv("AUTOPLAY", "true")
	t.Setenv("NATS_URL", "nats://nats.example.com:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://localhost/chain", cfg.DatasetURI)
	assert.Equal(t, `.value > 100`, cfg.DatasetFilter)
	assert.Equal(t, "public.erc20_transfers", cfg.DatasetTable)
	assert.Equal(t, 250.0, cfg.TxInterval)
	assert.Equal(t, 4000.0, cfg.EdgePersistence)
	assert.Equal(t, 0.5, cfg.EdgeSpeed)
	assert.Equal(t, 30000.0, cfg.EdgeRetention)
	assert.Equal(t, 200.0, cfg.LayoutExtent)
	assert.Equal(t, int64(42), cfg.LayoutSeed)
	assert.Equal(t, 33*time.Millisecond, cfg.FrameInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.SSEInterval)
	assert.True(t, cfg.Autoplay)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bad duration", "FRAME_INTERVAL", "fast", "invalid duration"},
		{"bad sse duration", "SSE_INTERVAL", "often", "invalid duration"},
		{"bad float", "TX_INTERVAL_MS", "six hundred", "invalid number"},
		{"infinite speed", "EDGE_SPEED", "Inf", "must be finite"},
		{"nan extent", "LAYOUT_EXTENT", "NaN", "must be finite"},
		{"bad bool", "AUTOPLAY", "sometimes", "invalid boolean"},
		{"bad seed", "LAYOUT_SEED", "1.5", "invalid integer"},
		{"zero interval", "TX_INTERVAL_MS", "0", "TxInterval must be positive"},
		{"negative speed", "EDGE_SPEED", "-1", "EdgeSpeed must be positive"},
		{"negative retention", "EDGE_RETENTION_MS", "-5", "EdgeRetention cannot be negative"},
		{"unknown log level", "LOG_LEVEL", "verbose", "LogLevel must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	t.Setenv("FRAME_INTERVAL", "fast")
	t.Setenv("EDGE_SPEED", "quick")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FRAME_INTERVAL")
	assert.Contains(t, err.Error(), "EDGE_SPEED")
}

func validConfig() *Config {
	return &Config{
		ServerAddr:      ":8080",
		LogLevel:        "info",
		DatasetURI:      "transfers.json",
		DatasetTable:    "transfers",
		TxInterval:      600,
		EdgePersistence: 8000,
		EdgeSpeed:       0.25,
		LayoutExtent:    100,
		FrameInterval:   16 * time.Millisecond,
		SSEInterval:     100 * time.Millisecond,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_MissingDatasetURI(t *testing.T) {
	cfg := validConfig()
	cfg.DatasetURI = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DatasetURI is required")
}

func TestValidate_SSEFasterThanFrames(t *testing.T) {
	cfg := validConfig()
	cfg.SSEInterval = 5 * time.Millisecond

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be shorter than FrameInterval")
}

func TestValidate_TooShortFrameInterval(t *testing.T) {
	cfg := validConfig()
	cfg.FrameInterval = 100 * time.Microsecond
	cfg.SSEInterval = time.Millisecond

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be at least 1 millisecond")
}

func TestMustLoad_Panics(t *testing.T) {
	t.Setenv("EDGE_PERSISTENCE_MS", "forever")

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}
