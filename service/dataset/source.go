package dataset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// FileSource reads the table from a local JSON file.
type FileSource struct {
	Path string
}

// Fetch implements Source.
func (s FileSource) Fetch(ctx context.Context) (Table, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to open %s: %w", s.Path, err)
	}
	defer f.Close()
	return Decode(f)
}

// HTTPSource fetches the table once over HTTP. There is no retry.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// Fetch implements Source.
func (s HTTPSource) Fetch(ctx context.Context) (Table, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", s.URL, nil)
	if err != nil {
		return Table{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Table{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Table{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return Decode(resp.Body)
}

// IsPostgresURI reports whether uri names a Postgres database.
func IsPostgresURI(uri string) bool {
	return strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://")
}

// ParseSource picks a file or HTTP source for uri. Database URIs are
// handled by the db package.
func ParseSource(uri string) (Source, error) {
	switch {
	case uri == "":
		return nil, fmt.Errorf("dataset uri is required")
	case IsPostgresURI(uri):
		return nil, fmt.Errorf("postgres dataset sources must be opened with db.OpenSource")
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return HTTPSource{URL: uri}, nil
	default:
		return FileSource{Path: strings.TrimPrefix(uri, "file://")}, nil
	}
}
