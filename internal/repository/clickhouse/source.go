package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/maximilianredt/eforms-conversion-uploader/internal/domain"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/repository"
)

// Source implements repository.EventSource on the ClickHouse warehouse.
type Source struct {
	client *Client
	params QueryParams
	log    *zap.Logger
}

// NewSource creates a new warehouse event source.
func NewSource(client *Client, params QueryParams, log *zap.Logger) *Source {
	return &Source{
		client: client,
		params: params,
		log:    log,
	}
}

// FetchCandidates returns the unsent candidates for one forward pass.
func (s *Source) FetchCandidates(ctx context.Context, pass domain.Pass) ([]repository.Candidate, error) {
	query, err := s.queryForPass(pass)
	if err != nil {
		return nil, err
	}

	rows, err := s.client.Conn().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s candidates: %w", pass.Label, err)
	}
	defer func(rows driver.Rows) {
		if err := rows.Close(); err != nil {
			s.log.Error("Failed to close candidate rows", zap.Error(err))
		}
	}(rows)

	var candidates []repository.Candidate
	for rows.Next() {
		var (
			c         repository.Candidate
			eventType string
		)
		if err := rows.Scan(
			&c.Event.EventID,
			&eventType,
			&c.Event.UserID,
			&c.Event.OccurredAt,
			&c.Event.Value,
			&c.Event.GCLID,
			&c.Event.MSCLKID,
			&c.GoogleEligible,
			&c.MicrosoftEligible,
			&c.Event.Email,
			&c.Event.FirstName,
			&c.Event.LastName,
			&c.Event.City,
			&c.Event.State,
			&c.Event.Country,
			&c.Event.ZipCode,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candidate row: %w", err)
		}
		c.Event.EventType = domain.EventType(eventType)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidate rows: %w", err)
	}

	return candidates, nil
}

// FetchRefunds returns refund payments matched to their original sent
// conversions.
func (s *Source) FetchRefunds(ctx context.Context) ([]domain.Refund, error) {
	rows, err := s.client.Conn().Query(ctx, BuildRefundsQuery(s.params))
	if err != nil {
		return nil, fmt.Errorf("failed to query refunds: %w", err)
	}
	defer func(rows driver.Rows) {
		if err := rows.Close(); err != nil {
			s.log.Error("Failed to close refund rows", zap.Error(err))
		}
	}(rows)

	var refunds []domain.Refund
	for rows.Next() {
		var (
			r        domain.Refund
			platform string
		)
		if err := rows.Scan(
			&r.EventID,
			&r.UserID,
			&r.RefundedAt,
			&r.Value,
			&r.OriginalEventID,
			&platform,
			&r.ClickID,
			&r.OriginalTime,
			&r.OriginalAction,
			&r.OriginalSentAt,
			&r.OriginalCurrency,
		); err != nil {
			return nil, fmt.Errorf("failed to scan refund row: %w", err)
		}
		r.Platform = domain.Platform(platform)
		refunds = append(refunds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refund rows: %w", err)
	}

	return refunds, nil
}

func (s *Source) queryForPass(pass domain.Pass) (string, error) {
	switch pass.Source {
	case domain.SourceTrials:
		return BuildTrialStartsQuery(s.params), nil
	case domain.SourceSubscriptions:
		return BuildSubscriptionsQuery(s.params), nil
	case domain.SourceOrders:
		if len(pass.Types) == 1 && pass.Types[0] == domain.EventTypeChatPurchase {
			return BuildChatPurchasesQuery(s.params), nil
		}
		return BuildDocumentPurchasesQuery(s.params), nil
	default:
		return "", fmt.Errorf("no candidate query for source kind %d", pass.Source)
	}
}
