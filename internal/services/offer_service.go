package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/extraction"
	"github.com/senyabanana/tender-negotiation/internal/metrics"
	"github.com/senyabanana/tender-negotiation/internal/models"
	"github.com/senyabanana/tender-negotiation/internal/repository"
	"github.com/senyabanana/tender-negotiation/internal/runner"

	"github.com/rs/zerolog"
)

// ReconcileResult - итог сверки ответов по одному запросу.
type ReconcileResult struct {
	RequestID string               `json:"requestId"`
	Replies   int                  `json:"replies"`
	Extracted int                  `json:"extracted"`
	Failed    int                  `json:"failed"`
	Created   int                  `json:"created"`
	Updated   int                  `json:"updated"`
	Unchanged int                  `json:"unchanged"`
	Status    models.RequestStatus `json:"status"`
}

// OfferService сверяет ответы поставщиков с сохраненными предложениями.
type OfferService struct {
	Store       repository.Store
	Extractor   *extraction.Extractor
	Scorer      extraction.Scorer
	Concurrency int
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// NewOfferService создаёт новый экземпляр OfferService.
func NewOfferService(store repository.Store, extractor *extraction.Extractor, scorer extraction.Scorer, concurrency int, m *metrics.Metrics, logger zerolog.Logger) *OfferService {
	if concurrency < 1 {
		concurrency = runner.DefaultConcurrency
	}
	return &OfferService{
		Store:       store,
		Extractor:   extractor,
		Scorer:      scorer,
		Concurrency: concurrency,
		Metrics:     m,
		Logger:      logger.With().Str("component", "reconcile").Logger(),
	}
}

type extractionSlot struct {
	msg         models.Message
	participant models.Participant
	out         *extraction.Extraction
}

// ProcessReplies извлекает предложения из последних ответов поставщиков и
// записывает их одной короткой транзакцией. Внешние вызовы выполняются до
// начала транзакции; принятые предложения не изменяются.
func (s *OfferService) ProcessReplies(ctx context.Context, requestId string) (ReconcileResult, error) {
	const op = "services.OfferService.ProcessReplies"

	res := ReconcileResult{RequestID: requestId}
	started := time.Now().UTC()

	req, err := s.Store.Requests().GetRequest(ctx, requestId, false)
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}
	res.Status = req.Status
	if req.Status == models.ClosedRequest {
		return res, fmt.Errorf("%s: %w", op, ErrRequestClosed)
	}

	messages, err := s.Store.Messages().ListInbound(ctx, requestId)
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}
	latest := extraction.SelectLatest(messages)
	res.Replies = len(latest)
	if len(latest) == 0 {
		return res, nil
	}

	stored, err := s.Store.Offers().ListOffersByRequest(ctx, requestId, false)
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}
	current := make(map[string]models.Offer, len(stored))
	for _, o := range stored {
		if o.Status != models.RejectedOffer {
			current[o.ParticipantID] = o
		}
	}

	ids := make([]string, 0, len(latest))
	for _, m := range latest {
		ids = append(ids, m.ParticipantID)
	}
	participants, err := s.Store.Participants().GetParticipantsByIDs(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}
	byID := make(map[string]models.Participant, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
	}

	slots := make([]*extractionSlot, 0, len(latest))
	for _, m := range latest {
		if o, ok := current[m.ParticipantID]; ok && o.SourceMessageID != nil && *o.SourceMessageID == m.ID {
			res.Unchanged++
			continue
		}
		p, ok := byID[m.ParticipantID]
		if !ok {
			res.Failed++
			s.Logger.Warn().Str("participant_id", m.ParticipantID).Msg("reply from unknown participant")
			continue
		}
		slots = append(slots, &extractionSlot{msg: m, participant: p})
	}

	run := runner.Run(ctx, slots, s.Concurrency, func(ctx context.Context, slot *extractionSlot) error {
		e, err := s.Extractor.Extract(ctx, *req, slot.participant, slot.msg)
		if err != nil {
			return fmt.Errorf("participant %s: %w", slot.participant.ID, err)
		}
		slot.out = e
		return nil
	},
		runner.WithName("extraction"),
		runner.WithLogger(s.Logger),
		runner.WithObserver(s.Metrics.ObserveRun))
	res.Failed += run.Failed

	fresh := make([]*extraction.Extraction, 0, run.Completed)
	for _, slot := range slots {
		if slot.out != nil {
			fresh = append(fresh, slot.out)
		}
	}
	res.Extracted = len(fresh)
	extraction.ScoreAll(s.Scorer, *req, fresh, stored)

	// ответы с ошибкой извлечения остаются новее отметки сверки и попадут в следующий цикл
	reconciledAt := started
	for _, slot := range slots {
		if slot.out == nil && !slot.msg.CreatedAt.IsZero() && slot.msg.CreatedAt.Before(reconciledAt) {
			reconciledAt = slot.msg.CreatedAt.Add(-time.Microsecond)
		}
	}

	err = s.Store.InTx(ctx, func(tx repository.Store) error {
		for _, e := range fresh {
			changed, err := s.upsertOffer(ctx, tx, req.ID, e)
			if err != nil {
				return err
			}
			switch changed {
			case upsertCreated:
				res.Created++
			case upsertUpdated:
				res.Updated++
			default:
				res.Unchanged++
			}
		}

		if res.Created+res.Updated > 0 {
			advanced, err := tx.Requests().AdvanceRequestStatus(ctx, req.ID,
				[]models.RequestStatus{models.DraftRequest, models.SentRequest}, models.EvaluatingRequest)
			if err != nil {
				return err
			}
			if advanced {
				res.Status = models.EvaluatingRequest
			}
		}
		return tx.Requests().MarkReconciled(ctx, req.ID, reconciledAt)
	})
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}

	s.Logger.Info().
		Str("request_id", req.ID).
		Int("replies", res.Replies).
		Int("extracted", res.Extracted).
		Int("failed", res.Failed).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("unchanged", res.Unchanged).
		Msg("replies reconciled")
	return res, nil
}

type upsertOutcome int

const (
	upsertUnchanged upsertOutcome = iota
	upsertCreated
	upsertUpdated
)

// upsertOffer обновляет живое предложение поставщика или создает новое.
// Строка предложения блокируется до конца транзакции.
func (s *OfferService) upsertOffer(ctx context.Context, tx repository.Store, requestId string, e *extraction.Extraction) (upsertOutcome, error) {
	sourceId := e.Message.ID
	cur, err := tx.Offers().GetLiveOffer(ctx, requestId, e.Participant.ID, true)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		created, err := tx.Offers().CreateOffer(ctx, models.Offer{
			RequestID:           requestId,
			ParticipantID:       e.Participant.ID,
			TotalPrice:          e.Data.TotalPrice,
			Currency:            e.Data.Currency,
			DeliveryDays:        e.Data.DeliveryDays,
			WarrantyMonths:      e.Data.WarrantyMonths,
			PaymentTerms:        e.Data.PaymentTerms,
			MatchesRequirements: e.Data.MatchesRequirements,
			Score:               e.Data.Score,
			ScoreRationale:      e.Data.ScoreRationale,
			SourceMessageID:     &sourceId,
		})
		if err != nil {
			return upsertUnchanged, err
		}
		if _, err := tx.Offers().ReplaceLineItems(ctx, created.ID, e.Data.Items); err != nil {
			return upsertUnchanged, err
		}
		return upsertCreated, nil
	case err != nil:
		return upsertUnchanged, err
	case cur.Status == models.AwardedOffer:
		s.Logger.Debug().Str("offer_id", cur.ID).Msg("awarded offer left unchanged")
		return upsertUnchanged, nil
	}

	updated, err := tx.Offers().UpdateOffer(ctx, cur.ID, e.Data, &sourceId)
	if err != nil {
		return upsertUnchanged, err
	}
	if _, err := tx.Offers().ReplaceLineItems(ctx, updated.ID, e.Data.Items); err != nil {
		return upsertUnchanged, err
	}
	return upsertUpdated, nil
}

// ProcessPending сверяет все открытые запросы, по которым пришли новые ответы.
// Ошибка по одному запросу не останавливает остальные.
func (s *OfferService) ProcessPending(ctx context.Context) ([]ReconcileResult, error) {
	const op = "services.OfferService.ProcessPending"

	ids, err := s.Store.Requests().ListRequestsWithNewReplies(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	results := make([]ReconcileResult, 0, len(ids))
	var errs []error
	for _, id := range ids {
		res, err := s.ProcessReplies(ctx, id)
		if err != nil {
			s.Logger.Error().Err(err).Str("request_id", id).Msg("reconciliation failed")
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}
