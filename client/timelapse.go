package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2mur/transfers-timelapse-nc/service/dataset"
	"github.com/2mur/transfers-timelapse-nc/service/playback"
)

// State is the playback state reported by the server.
type State = playback.State

// Constants are the timing and layout constants the server processed the
// dataset with.
type Constants struct {
	TxInterval      float64 `json:"tx_interval_ms"`
	EdgePersistence float64 `json:"edge_persistence_ms"`
	EdgeSpeed       float64 `json:"edge_speed"`
	EdgeRetention   float64 `json:"edge_retention_ms"`
	LayoutExtent    float64 `json:"layout_extent"`
}

// DatasetSummary describes the dataset loaded by the server.
type DatasetSummary struct {
	Records     int       `json:"records"`
	Nodes       int       `json:"nodes"`
	Rows        int       `json:"rows"`
	Filtered    int       `json:"filtered"`
	Skipped     int       `json:"skipped"`
	LastEndTime float64   `json:"last_end_time"`
	TotalValue  float64   `json:"total_value"`
	Constants   Constants `json:"constants"`

	// Only populated when requested with records.
	Transfers []dataset.Record `json:"transfers,omitempty"`
	NodeList  []dataset.Node   `json:"node_list,omitempty"`
}

// ErrEmptyDataset is returned by playback controls when the server has
// nothing to play.
var ErrEmptyDataset = errors.New("server dataset is empty")

// Client is the HTTP client for the timelapse service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new timelapse service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Snapshot fetches the current playback state.
func (c *Client) Snapshot(ctx context.Context) (*State, error) {
	var st State
	if err := c.getJSON(ctx, "/api/v1/snapshot", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Dataset fetches the dataset summary. With records set the processed
// transfers and node list are included.
func (c *Client) Dataset(ctx context.Context, records bool) (*DatasetSummary, error) {
	path := "/api/v1/dataset"
	if records {
		path += "?records=true"
	}

	var summary DatasetSummary
	if err := c.getJSON(ctx, path, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Play starts or resumes playback.
func (c *Client) Play(ctx context.Context) (*State, error) {
	return c.control(ctx, "play")
}

// Pause freezes playback.
func (c *Client) Pause(ctx context.Context) (*State, error) {
	return c.control(ctx, "pause")
}

// Toggle flips between playing and paused.
func (c *Client) Toggle(ctx context.Context) (*State, error) {
	return c.control(ctx, "toggle")
}

// Restart clears the replay and plays from the beginning.
func (c *Client) Restart(ctx context.Context) (*State, error) {
	return c.control(ctx, "restart")
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// StreamSnapshots follows the server's snapshot stream, calling fn for every
// snapshot event until ctx is cancelled, the server closes the stream, or fn
// returns an error. A cancelled ctx is not reported as an error.
func (c *Client) StreamSnapshots(ctx context.Context, fn func(*State) error) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/stream/snapshots", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The configured client's timeout would cut the stream.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to connect to snapshot stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	var event, data string
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if event == "snapshot" && data != "" {
				var st State
				if err := json.Unmarshal([]byte(data), &st); err != nil {
					c.logger.Warn("failed to decode snapshot event", "error", err)
				} else if err := fn(&st); err != nil {
					return err
				}
			} else if event == "connected" {
				c.logger.Debug("connected to snapshot stream", "data", data)
			}
			event, data = "", ""
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("error reading snapshot stream: %w", err)
	}
	return nil
}

func (c *Client) control(ctx context.Context, action string) (*State, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/playback/"+action, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil, ErrEmptyDataset
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var st State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("playback control sent", "action", action, "playing", st.Playing, "elapsed", st.Elapsed)
	return &st, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
