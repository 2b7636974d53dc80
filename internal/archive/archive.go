// Package archive appends transactions to an append-only BigQuery table for
// analysis outside the device.
package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/offline-ledger/internal/domain"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const (
	// Table is the archive table name inside the configured dataset.
	Table = "transactions_archive"

	defaultDataset = "ledger"
)

// RowWriter streams rows into a table. *bigquery.Inserter satisfies it.
type RowWriter interface {
	Put(ctx context.Context, src any) error
}

// Result summarises one Archive call.
type Result struct {
	Archived int      `json:"archived"`
	Rejected []string `json:"rejected,omitempty"`
}

// Archiver writes transaction rows to BigQuery.
type Archiver struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	writer    RowWriter
	log       zerolog.Logger
	now       func() time.Time
}

// NewArchiver creates an Archiver with its own BigQuery client.
func NewArchiver(ctx context.Context, projectID, datasetID string, log zerolog.Logger) (*Archiver, error) {
	if projectID == "" {
		return nil, fmt.Errorf("NewArchiver: project id is required")
	}
	if datasetID == "" {
		datasetID = defaultDataset
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewArchiver: creating client: %w", err)
	}
	a := &Archiver{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
		log:       log.With().Str("component", "archive").Logger(),
		now:       time.Now,
	}
	a.writer = a.table().Inserter()
	return a, nil
}

// newWithWriter builds an Archiver without a client; only Archive works.
func newWithWriter(w RowWriter, log zerolog.Logger) *Archiver {
	return &Archiver{writer: w, log: log, now: time.Now}
}

// Close closes the BigQuery client connection.
func (a *Archiver) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

func (a *Archiver) table() *bigquery.Table {
	return a.client.DatasetInProject(a.projectID, a.datasetID).Table(Table)
}

// EnsureTable creates the archive table, partitioned by transaction date,
// when it does not exist yet.
func (a *Archiver) EnsureTable(ctx context.Context) error {
	t := a.table()
	_, err := t.Metadata(ctx)
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusNotFound {
		return fmt.Errorf("EnsureTable: reading metadata: %w", err)
	}

	schema, err := bigquery.InferSchema(Row{})
	if err != nil {
		return fmt.Errorf("EnsureTable: inferring schema: %w", err)
	}
	meta := &bigquery.TableMetadata{
		Schema:           schema,
		TimePartitioning: &bigquery.TimePartitioning{Field: "transaction_date"},
	}
	if err := t.Create(ctx, meta); err != nil {
		return fmt.Errorf("EnsureTable: creating table: %w", err)
	}
	a.log.Info().Str("dataset", a.datasetID).Str("table", Table).Msg("archive table created")
	return nil
}

// Archive appends the given transactions. Records that cannot be converted
// are reported in Result.Rejected and do not fail the batch. The transaction
// id is the insert id, so re-archiving the same record shortly after is
// deduplicated by BigQuery on a best-effort basis.
func (a *Archiver) Archive(ctx context.Context, userID string, records []domain.Record) (Result, error) {
	var res Result
	archivedAt := a.now()

	savers := make([]*bigquery.StructSaver, 0, len(records))
	for _, rec := range records {
		row, err := ToRow(userID, rec, archivedAt)
		if err != nil {
			id, _ := rec.ID()
			a.log.Warn().Err(err).Str("id", id).Msg("transaction not archived")
			res.Rejected = append(res.Rejected, id)
			continue
		}
		savers = append(savers, &bigquery.StructSaver{Struct: row, InsertID: row.TransactionID})
	}
	if len(savers) == 0 {
		return res, nil
	}

	if err := a.writer.Put(ctx, savers); err != nil {
		return res, fmt.Errorf("Archive: inserting rows: %w", err)
	}
	res.Archived = len(savers)
	a.log.Info().Int("archived", res.Archived).Int("rejected", len(res.Rejected)).Msg("transactions archived")
	return res, nil
}

// QueryByDateRange returns the archived rows of userID between start and
// end, both inclusive.
func (a *Archiver) QueryByDateRange(ctx context.Context, userID string, start, end time.Time) ([]*Row, error) {
	if a.client == nil {
		return nil, fmt.Errorf("QueryByDateRange: archive has no BigQuery client")
	}
	q := a.client.Query(fmt.Sprintf(`
		SELECT *
		FROM `+"`%s.%s.%s`"+`
		WHERE user_id = @user_id
		  AND transaction_date >= @start_date
		  AND transaction_date <= @end_date
		ORDER BY transaction_date, archived_ts
	`, a.projectID, a.datasetID, Table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "start_date", Value: civil.DateOf(start)},
		{Name: "end_date", Value: civil.DateOf(end)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryByDateRange: query read: %w", err)
	}

	var rows []*Row
	for {
		var r Row
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryByDateRange: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}
