package services

import (
	"context"
	"fmt"

	"github.com/senyabanana/tender-negotiation/internal/correlation"
	"github.com/senyabanana/tender-negotiation/internal/mailbox"
	"github.com/senyabanana/tender-negotiation/internal/metrics"
	"github.com/senyabanana/tender-negotiation/internal/repository"

	"github.com/rs/zerolog"
)

// IngestResult - итог одного цикла чтения почтового ящика.
type IngestResult struct {
	Fetched  int               `json:"fetched"`
	Skipped  int               `json:"skipped"`
	Resolved int               `json:"resolved"`
	Inserted int               `json:"inserted"`
	Cursor   uint32            `json:"cursor"`
	Stats    correlation.Stats `json:"-"`
}

// InboundService читает новые письма, сопоставляет их с приглашениями и сохраняет.
type InboundService struct {
	Store    repository.Store
	Poller   *mailbox.Poller
	Resolver *correlation.Resolver
	Mailbox  string
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// NewInboundService создаёт новый экземпляр InboundService.
func NewInboundService(store repository.Store, poller *mailbox.Poller, resolver *correlation.Resolver, mailboxName string, m *metrics.Metrics, logger zerolog.Logger) *InboundService {
	if mailboxName == "" {
		mailboxName = "INBOX"
	}
	return &InboundService{
		Store:    store,
		Poller:   poller,
		Resolver: resolver,
		Mailbox:  mailboxName,
		Metrics:  m,
		Logger:   logger.With().Str("component", "inbound").Logger(),
	}
}

// Ingest выполняет один цикл: курсор → чтение ящика → сопоставление → запись.
// Письма и новый курсор сохраняются в одной транзакции, поэтому при сбое
// следующий цикл перечитает тот же диапазон, а дубли отсеет уникальный provider_message_id.
func (s *InboundService) Ingest(ctx context.Context) (IngestResult, error) {
	const op = "services.InboundService.Ingest"

	cursor, err := s.Store.Cursors().GetCursor(ctx, s.Mailbox)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%s: load cursor: %w", op, err)
	}

	batch, err := s.Poller.Poll(ctx, cursor)
	if err != nil {
		return IngestResult{Cursor: cursor}, fmt.Errorf("%s: %w", op, err)
	}
	res := IngestResult{Fetched: batch.Fetched, Skipped: batch.Skipped, Cursor: cursor}

	resolved, stats, err := s.Resolver.Resolve(ctx, batch.Messages)
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}
	res.Resolved = len(resolved)
	res.Stats = stats

	err = s.Store.InTx(ctx, func(tx repository.Store) error {
		inserted, err := tx.Messages().InsertInbound(ctx, resolved)
		if err != nil {
			return err
		}
		res.Inserted = inserted
		if batch.NextCursor != cursor {
			return tx.Cursors().SaveCursor(ctx, s.Mailbox, batch.NextCursor)
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}
	res.Cursor = batch.NextCursor

	s.Metrics.Correlated("resolved", stats.Resolved)
	for reason, n := range stats.Skipped {
		s.Metrics.Correlated(string(reason), n)
	}
	s.Logger.Info().
		Int("fetched", res.Fetched).
		Int("unparseable", res.Skipped).
		Int("resolved", res.Resolved).
		Int("inserted", res.Inserted).
		Int("uncorrelated", stats.TotalSkipped()).
		Uint32("cursor", res.Cursor).
		Msg("mailbox ingested")
	return res, nil
}
