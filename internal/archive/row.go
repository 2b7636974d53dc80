package archive

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/offline-ledger/internal/domain"
)

// Row is one archived transaction in the transactions_archive table.
type Row struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	UserID        string `bigquery:"user_id"`        // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED, partition column

	Amount float64 `bigquery:"amount"` // REQUIRED

	Type        bigquery.NullString `bigquery:"type"`        // income / expense / transfer
	AccountID   bigquery.NullString `bigquery:"account_id"`  // NULLABLE
	Category    bigquery.NullString `bigquery:"category"`    // NULLABLE
	Payee       bigquery.NullString `bigquery:"payee"`       // NULLABLE
	Description bigquery.NullString `bigquery:"description"` // NULLABLE

	Reconciled bool     `bigquery:"reconciled"`
	Tags       []string `bigquery:"tags"` // REPEATED STRING

	ArchivedTS time.Time `bigquery:"archived_ts"`

	// Extra holds the remaining record fields as JSON text.
	Extra bigquery.NullString `bigquery:"extra"`
}

// fields copied into typed columns; everything else lands in Extra.
var columnFields = map[string]bool{
	"id": true, "date": true, "amount": true, "type": true, "accountId": true,
	"category": true, "payee": true, "description": true, "reconciled": true, "tags": true,
}

// ToRow converts a transaction record. Records without an id or a readable
// date are rejected.
func ToRow(userID string, rec domain.Record, archivedAt time.Time) (*Row, error) {
	id, ok := rec.ID()
	if !ok {
		return nil, domain.ErrMissingID
	}
	date, err := parseDate(rec["date"])
	if err != nil {
		return nil, fmt.Errorf("ToRow: transaction %s: %w", id, err)
	}

	row := &Row{
		TransactionID:   id,
		UserID:          userID,
		TransactionDate: date,
		Amount:          toFloat(rec["amount"]),
		Type:            nullString(rec["type"]),
		AccountID:       nullString(rec["accountId"]),
		Category:        nullString(rec["category"]),
		Payee:           nullString(rec["payee"]),
		Description:     nullString(rec["description"]),
		ArchivedTS:      archivedAt.UTC(),
	}
	if b, ok := rec["reconciled"].(bool); ok {
		row.Reconciled = b
	}
	if tags, ok := rec["tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				row.Tags = append(row.Tags, s)
			}
		}
	}

	extra := map[string]any{}
	for k, v := range rec {
		if !columnFields[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		b, err := json.Marshal(extra)
		if err != nil {
			return nil, fmt.Errorf("ToRow: transaction %s: encoding extra: %w", id, err)
		}
		row.Extra = bigquery.NullString{StringVal: string(b), Valid: true}
	}
	return row, nil
}

// parseDate accepts YYYY-MM-DD or a full RFC3339 timestamp.
func parseDate(v any) (civil.Date, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return civil.Date{}, fmt.Errorf("missing date")
	}
	if len(s) > 10 {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return civil.DateOf(t.UTC()), nil
		}
		s = s[:10]
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return d, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func nullString(v any) bigquery.NullString {
	s, ok := v.(string)
	if !ok || s == "" {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: s, Valid: true}
}
