package history

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// Repository stores and lists history rows.
type Repository interface {
	Insert(ctx context.Context, rows []*Row) error
	ListRecent(ctx context.Context, limit int) ([]*Row, error)
}

// BigQueryRepository writes history rows to a BigQuery table. It holds a
// shared client for the lifetime of the process.
type BigQueryRepository struct {
	client  *bigquery.Client
	project string
	dataset string
	table   string
}

// NewBigQueryRepository creates a repository with its own BigQuery client.
func NewBigQueryRepository(ctx context.Context, project, dataset, table string) (*BigQueryRepository, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryRepository: creating client: %w", err)
	}
	return &BigQueryRepository{client: client, project: project, dataset: dataset, table: table}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// EnsureTable creates the history table from the Row schema if it does not
// exist yet.
func (r *BigQueryRepository) EnsureTable(ctx context.Context) error {
	schema, err := bigquery.InferSchema(Row{})
	if err != nil {
		return fmt.Errorf("EnsureTable: infer schema: %w", err)
	}
	meta := &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "recorded_at",
		},
	}

	err = r.client.DatasetInProject(r.project, r.dataset).Table(r.table).Create(ctx, meta)
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("EnsureTable: create %s.%s: %w", r.dataset, r.table, err)
	}
	return nil
}

// Insert implements Repository.
func (r *BigQueryRepository) Insert(ctx context.Context, rows []*Row) error {
	if len(rows) == 0 {
		return nil
	}
	inserter := r.client.DatasetInProject(r.project, r.dataset).Table(r.table).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("Insert: inserting %d rows: %w", len(rows), err)
	}
	return nil
}

// ListRecent implements Repository, newest first.
func (r *BigQueryRepository) ListRecent(ctx context.Context, limit int) ([]*Row, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			event_id,
			kind,
			transaction_id,
			transaction_ref,
			remote_id,
			state,
			attempts,
			message,
			recorded_at
		FROM `+"`%s.%s.%s`"+`
		ORDER BY recorded_at DESC
		LIMIT @limit
	`, r.project, r.dataset, r.table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRecent: query read: %w", err)
	}

	var rows []*Row
	for {
		var row Row
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRecent: iter next: %w", err)
		}
		rows = append(rows, &row)
	}
	return rows, nil
}

var _ Repository = (*BigQueryRepository)(nil)
