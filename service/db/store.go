package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2mur/transfers-timelapse-nc/service/dataset"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTable is the table read when none is configured.
const DefaultTable = "transfers"

// TransferSource reads the transfers table and presents it as the columnar
// table the dataset loader consumes. It only ever reads.
type TransferSource struct {
	Pool   *pgxpool.Pool
	Table  string
	Logger *slog.Logger
}

// NewTransferSource creates a TransferSource over table, which may be
// schema-qualified ("public.transfers").
func NewTransferSource(pool *pgxpool.Pool, table string, logger *slog.Logger) *TransferSource {
	if table == "" {
		table = DefaultTable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TransferSource{Pool: pool, Table: table, Logger: logger}
}

// Fetch implements dataset.Source.
func (s *TransferSource) Fetch(ctx context.Context) (dataset.Table, error) {
	query, err := selectTransfersQuery(s.Table)
	if err != nil {
		return dataset.Table{}, err
	}

	rows, err := s.Pool.Query(ctx, query)
	if err != nil {
		return dataset.Table{}, fmt.Errorf("failed to query %s: %w", s.Table, err)
	}
	defer rows.Close()

	columns := []string{
		dataset.ColumnFrom,
		dataset.ColumnTo,
		dataset.ColumnValue,
		dataset.ColumnBlockNumber,
		dataset.ColumnTimestamp,
	}
	values := make([][]any, len(columns))

	for rows.Next() {
		cells := make([]*string, len(columns))
		dest := make([]any, len(columns))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return dataset.Table{}, fmt.Errorf("failed to scan transfer row: %w", err)
		}
		for i, cell := range cells {
			if cell == nil {
				values[i] = append(values[i], nil)
				continue
			}
			values[i] = append(values[i], *cell)
		}
	}
	if err := rows.Err(); err != nil {
		return dataset.Table{}, fmt.Errorf("failed to read transfer rows: %w", err)
	}

	table := dataset.Table{Columns: make([]dataset.Column, len(columns))}
	for i, name := range columns {
		table.Columns[i] = dataset.Column{Name: name, Values: values[i]}
		if table.Columns[i].Values == nil {
			table.Columns[i].Values = []any{}
		}
	}

	s.Logger.Debug("fetched transfers from postgres",
		"table", s.Table,
		"rows", len(table.Columns[0].Values),
	)
	return table, nil
}

// selectTransfersQuery builds the read query. Every column is cast to text
// so numeric precision survives until the loader coerces it.
func selectTransfersQuery(table string) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("table name is required")
	}
	ident := pgx.Identifier(strings.Split(table, "."))
	for _, part := range ident {
		if part == "" {
			return "", fmt.Errorf("invalid table name %q", table)
		}
	}
	return fmt.Sprintf(
		`SELECT "from"::text, "to"::text, value::text, blocknumber::text, timestamp::text FROM %s ORDER BY timestamp`,
		ident.Sanitize(),
	), nil
}

// OpenSource returns a dataset.Source for uri. Postgres URIs open a
// connection pool that the returned close func releases; any other URI is
// resolved by dataset.ParseSource and close is a no-op.
func OpenSource(ctx context.Context, uri, table string, logger *slog.Logger) (dataset.Source, func(), error) {
	if !dataset.IsPostgresURI(uri) {
		src, err := dataset.ParseSource(uri)
		if err != nil {
			return nil, nil, err
		}
		return src, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewTransferSource(pool, table, logger), pool.Close, nil
}
