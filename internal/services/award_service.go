package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/metrics"
	"github.com/senyabanana/tender-negotiation/internal/models"
	"github.com/senyabanana/tender-negotiation/internal/notify"
	"github.com/senyabanana/tender-negotiation/internal/repository"
	"github.com/senyabanana/tender-negotiation/internal/utils"

	"github.com/rs/zerolog"
)

// publishTimeout ограничивает публикацию задач после фиксации решения.
const publishTimeout = 5 * time.Second

// AwardResult - итог выбора победителя.
type AwardResult struct {
	RequestID        string               `json:"requestId"`
	AwardedOfferID   string               `json:"awardedOfferId"`
	RejectedOfferIDs []string             `json:"rejectedOfferIds"`
	Status           models.RequestStatus `json:"status"`
	TasksPublished   int                  `json:"tasksPublished"`
}

// AwardService выполняет переходы статусов предложений: выбор победителя и отклонение.
type AwardService struct {
	Store     repository.Store
	Publisher notify.Publisher
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// NewAwardService создаёт новый экземпляр AwardService.
func NewAwardService(store repository.Store, publisher notify.Publisher, m *metrics.Metrics, logger zerolog.Logger) *AwardService {
	return &AwardService{
		Store:     store,
		Publisher: publisher,
		Metrics:   m,
		Logger:    logger.With().Str("component", "award").Logger(),
	}
}

// Award выбирает предложение победителем. В одной транзакции предложение
// переводится в awarded, остальные живые предложения по запросу в rejected,
// запрос закрывается. Задачи пересчета рейтинга и уведомлений публикуются
// только после фиксации транзакции.
func (s *AwardService) Award(ctx context.Context, requestId, offerId string) (*AwardResult, error) {
	const op = "services.AwardService.Award"

	res := &AwardResult{RequestID: requestId, AwardedOfferID: offerId, RejectedOfferIDs: []string{}}
	var winner string
	losers := map[string]string{}

	err := s.Store.InTx(ctx, func(tx repository.Store) error {
		req, err := tx.Requests().GetRequest(ctx, requestId, true)
		if err != nil {
			return err
		}
		if req.Status == models.ClosedRequest {
			return ErrRequestClosed
		}

		offers, err := tx.Offers().ListOffersByRequest(ctx, requestId, true)
		if err != nil {
			return err
		}
		var target *models.Offer
		for i := range offers {
			if offers[i].ID == offerId {
				target = &offers[i]
				break
			}
		}
		if target == nil {
			if _, err := tx.Offers().GetOffer(ctx, offerId, false); err != nil {
				return err
			}
			return ErrOfferMismatch
		}
		if err := checkTransition(target.Status, models.AwardedOffer); err != nil {
			return err
		}

		ok, err := tx.Offers().SetOfferStatus(ctx, target.ID, models.PendingOffer, models.AwardedOffer)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("offer %s changed concurrently", target.ID)
		}
		winner = target.ParticipantID

		for _, o := range offers {
			if o.ID == target.ID || o.Status != models.PendingOffer {
				continue
			}
			ok, err := tx.Offers().SetOfferStatus(ctx, o.ID, models.PendingOffer, models.RejectedOffer)
			if err != nil {
				return err
			}
			if ok {
				res.RejectedOfferIDs = append(res.RejectedOfferIDs, o.ID)
				losers[o.ID] = o.ParticipantID
			}
		}

		closed, err := tx.Requests().AdvanceRequestStatus(ctx, requestId,
			[]models.RequestStatus{models.DraftRequest, models.SentRequest, models.EvaluatingRequest}, models.ClosedRequest)
		if err != nil {
			return err
		}
		if !closed {
			return ErrRequestClosed
		}
		res.Status = models.ClosedRequest
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.Metrics.Decision(string(models.AwardedOffer), 1)
	s.Metrics.Decision(string(models.RejectedOffer), len(res.RejectedOfferIDs))

	tasks := []notify.Task{
		{Kind: notify.KindRatingRecompute, RequestID: requestId, OfferID: offerId, ParticipantID: winner},
		{Kind: notify.KindAward, RequestID: requestId, OfferID: offerId, ParticipantID: winner},
	}
	for _, id := range res.RejectedOfferIDs {
		tasks = append(tasks,
			notify.Task{Kind: notify.KindRatingRecompute, RequestID: requestId, OfferID: id, ParticipantID: losers[id]},
			notify.Task{Kind: notify.KindReject, RequestID: requestId, OfferID: id, ParticipantID: losers[id]})
	}
	res.TasksPublished = s.publish(ctx, tasks)

	s.Logger.Info().
		Str("request_id", requestId).
		Str("offer_id", offerId).
		Int("rejected", len(res.RejectedOfferIDs)).
		Msg("offer awarded")
	return res, nil
}

// Reject отклоняет предложение, находящееся на рассмотрении.
func (s *AwardService) Reject(ctx context.Context, offerId string) (*models.Offer, error) {
	const op = "services.AwardService.Reject"

	var offer *models.Offer
	err := s.Store.InTx(ctx, func(tx repository.Store) error {
		cur, err := tx.Offers().GetOffer(ctx, offerId, true)
		if err != nil {
			return err
		}
		if err := checkTransition(cur.Status, models.RejectedOffer); err != nil {
			return err
		}
		ok, err := tx.Offers().SetOfferStatus(ctx, cur.ID, models.PendingOffer, models.RejectedOffer)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("offer %s changed concurrently", cur.ID)
		}
		cur.Status = models.RejectedOffer
		offer = cur
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.Metrics.Decision(string(models.RejectedOffer), 1)
	s.publish(ctx, []notify.Task{
		{Kind: notify.KindRatingRecompute, RequestID: offer.RequestID, OfferID: offer.ID, ParticipantID: offer.ParticipantID},
		{Kind: notify.KindReject, RequestID: offer.RequestID, OfferID: offer.ID, ParticipantID: offer.ParticipantID},
	})

	s.Logger.Info().Str("offer_id", offer.ID).Msg("offer rejected")
	return offer, nil
}

// checkTransition проверяет переход по таблице models.OfferTransitions.
func checkTransition(from, to models.OfferStatus) error {
	if utils.Contains(models.OfferTransitions[from], to) {
		return nil
	}
	switch from {
	case models.AwardedOffer:
		return ErrOfferAwarded
	case models.RejectedOffer:
		return ErrOfferAlreadyRejected
	}
	return fmt.Errorf("invalid offer transition %s -> %s", from, to)
}

// publish отправляет задачи в очередь. Решение уже зафиксировано, поэтому
// ошибка публикации только логируется; отмена запроса вызывающим не прерывает публикацию.
func (s *AwardService) publish(ctx context.Context, tasks []notify.Task) int {
	if s.Publisher == nil {
		return 0
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	published := 0
	var errs []error
	for _, t := range tasks {
		if err := s.Publisher.Publish(pubCtx, t); err != nil {
			errs = append(errs, fmt.Errorf("%s for %s: %w", t.Kind, t.ParticipantID, err))
			continue
		}
		published++
	}
	if len(errs) > 0 {
		s.Logger.Error().Err(errors.Join(errs...)).Int("published", published).Msg("failed to publish decision tasks")
	}
	return published
}
