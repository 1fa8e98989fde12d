package services

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/senyabanana/tender-negotiation/internal/models"
	"github.com/senyabanana/tender-negotiation/internal/repository"
	"github.com/senyabanana/tender-negotiation/internal/router/config"

	"github.com/rs/zerolog"
)

// keyedMutex сериализует работу по одному ключу, не блокируя остальные ключи.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// RatingService пересчитывает статистику и рейтинг поставщика по полной истории предложений.
type RatingService struct {
	Store         repository.Store
	OnTimeMaxDays int
	Logger        zerolog.Logger

	locks keyedMutex
}

// NewRatingService создаёт новый экземпляр RatingService.
func NewRatingService(store repository.Store, scoring config.Scoring, logger zerolog.Logger) *RatingService {
	days := scoring.OnTimeThresholdDays
	if days <= 0 {
		days = config.DefaultScoring().OnTimeThresholdDays
	}
	return &RatingService{
		Store:         store,
		OnTimeMaxDays: days,
		Logger:        logger.With().Str("component", "rating").Logger(),
	}
}

// Recompute пересчитывает рейтинг поставщика. Пересчеты одного поставщика
// выполняются строго по очереди: внутри процесса через мьютекс по ID,
// между процессами через блокировку строки поставщика.
func (s *RatingService) Recompute(ctx context.Context, participantId string) (*models.ParticipantStats, error) {
	const op = "services.RatingService.Recompute"

	unlock := s.locks.Lock(participantId)
	defer unlock()

	var stats models.ParticipantStats
	err := s.Store.InTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Participants().GetParticipant(ctx, participantId, true); err != nil {
			return err
		}
		offers, err := tx.Offers().ListOffersByParticipant(ctx, participantId)
		if err != nil {
			return err
		}
		stats = ComputeStats(offers, s.OnTimeMaxDays)
		return tx.Participants().UpdateParticipantStats(ctx, participantId, stats)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.Logger.Debug().
		Str("participant_id", participantId).
		Int("total", stats.TotalCount).
		Int("awarded", stats.SuccessCount).
		Float64("rating", stats.Rating).
		Msg("rating recomputed")
	return &stats, nil
}

// ComputeStats считает статистику по истории предложений:
// rating = awarded/total × 4 + avgScore/100 × 4 + доля поставок не дольше onTimeMaxDays × 2.
// Результат округляется до сотых и ограничивается диапазоном [0, 10].
func ComputeStats(offers []models.Offer, onTimeMaxDays int) models.ParticipantStats {
	var stats models.ParticipantStats
	stats.TotalCount = len(offers)
	if stats.TotalCount == 0 {
		return stats
	}

	var scoreSum, daysSum float64
	var withDays, onTime int
	for _, o := range offers {
		switch o.Status {
		case models.AwardedOffer:
			stats.SuccessCount++
			if stats.LastAwardedAt == nil || o.UpdatedAt.After(*stats.LastAwardedAt) {
				at := o.UpdatedAt
				stats.LastAwardedAt = &at
			}
		case models.RejectedOffer:
			stats.RejectionCount++
		}
		scoreSum += o.Score
		if o.DeliveryDays != nil {
			withDays++
			daysSum += float64(*o.DeliveryDays)
			if *o.DeliveryDays <= onTimeMaxDays {
				onTime++
			}
		}
	}

	total := float64(stats.TotalCount)
	stats.AvgScore = round2(scoreSum / total)
	if withDays > 0 {
		stats.AvgDeliveryDays = round2(daysSum / float64(withDays))
		stats.OnTimeRate = math.Round(float64(onTime)/float64(withDays)*10000) / 10000
	}

	success := float64(stats.SuccessCount) / total * 4
	quality := stats.AvgScore / 100 * 4
	punctuality := stats.OnTimeRate * 2
	stats.Rating = math.Min(math.Max(round2(success+quality+punctuality), 0), 10)
	return stats
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
