package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/maximilianredt/eforms-conversion-uploader/internal/domain"
)

// Log implements repository.ConversionLog on the ClickHouse warehouse.
type Log struct {
	client *Client
	table  string
	log    *zap.Logger
}

// NewLog creates a new conversion log backed by the given table.
func NewLog(client *Client, table string, log *zap.Logger) *Log {
	return &Log{
		client: client,
		table:  table,
		log:    log,
	}
}

// InitSchema creates the conversion log table if it does not exist.
func (l *Log) InitSchema(ctx context.Context) error {
	if err := l.client.Conn().Exec(ctx, BuildCreateLogTableQuery(l.table)); err != nil {
		return fmt.Errorf("failed to create conversion log table: %w", err)
	}

	l.log.Info("Conversion log schema initialized", zap.String("table", l.table))
	return nil
}

// Append inserts a batch of outcome records. The log is append-only:
// records are inserted as new rows, never updated.
func (l *Log) Append(ctx context.Context, records []domain.LogRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch, err := l.client.Conn().PrepareBatch(ctx, fmt.Sprintf(`INSERT INTO %s (
		event_id, event_type, platform, click_id, conversion_time,
		conversion_value, conversion_action, currency_code, status,
		api_response, error_message, original_event_id, user_id, run_id, sent_at
	)`, l.table))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare log batch: %w", err)
	}

	appended := 0
	for _, record := range records {
		record.Truncate()
		if record.SentAt.IsZero() {
			record.SentAt = time.Now().UTC()
		}

		err := batch.Append(
			record.EventID,
			string(record.EventType),
			string(record.Platform),
			record.ClickID,
			record.ConversionTime,
			record.ConversionValue,
			record.ConversionAction,
			record.CurrencyCode,
			string(record.Status),
			record.APIResponse,
			record.ErrorMessage,
			record.OriginalEventID,
			record.UserID,
			record.RunID,
			record.SentAt,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to append log record to batch: %w", err)
		}
		appended++
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send log batch: %w", err)
	}

	return appended, nil
}

// AlreadySent returns the subset of eventIDs that already have a sent
// record for the platform. Used as the duplicate guard right before
// dispatch so overlapping runs cannot double-insert sent rows.
func (l *Log) AlreadySent(ctx context.Context, platform domain.Platform, eventIDs []string) (map[string]bool, error) {
	sent := make(map[string]bool)
	if len(eventIDs) == 0 {
		return sent, nil
	}

	query := fmt.Sprintf(`SELECT DISTINCT event_id FROM %s WHERE platform = ? AND status = 'sent' AND event_id IN (?)`, l.table)

	rows, err := l.client.Conn().Query(ctx, query, string(platform), eventIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query sent records: %w", err)
	}
	defer func(rows driver.Rows) {
		if err := rows.Close(); err != nil {
			l.log.Error("Failed to close sent-record rows", zap.Error(err))
		}
	}(rows)

	for rows.Next() {
		var eventID string
		if err := rows.Scan(&eventID); err != nil {
			return nil, fmt.Errorf("failed to scan sent record row: %w", err)
		}
		sent[eventID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sent record rows: %w", err)
	}

	return sent, nil
}

// Ping checks if the warehouse connection is alive.
func (l *Log) Ping(ctx context.Context) error {
	return l.client.Conn().Ping(ctx)
}
