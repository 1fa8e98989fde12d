package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CycleResult - итог одного цикла конвейера: чтение ящика и сверка ответов.
type CycleResult struct {
	Ingest    IngestResult      `json:"ingest"`
	Reconcile []ReconcileResult `json:"reconcile"`
}

// CycleService связывает чтение почты и сверку предложений в один цикл.
// Циклы выполняются строго по одному: курсор ящика пишет один владелец.
type CycleService struct {
	Inbound *InboundService
	Offers  *OfferService
	Timeout time.Duration
	Logger  zerolog.Logger

	gate chan struct{}
}

// NewCycleService создаёт новый экземпляр CycleService.
func NewCycleService(inbound *InboundService, offers *OfferService, timeout time.Duration, logger zerolog.Logger) *CycleService {
	return &CycleService{
		Inbound: inbound,
		Offers:  offers,
		Timeout: timeout,
		Logger:  logger.With().Str("component", "cycle").Logger(),
		gate:    make(chan struct{}, 1),
	}
}

// RunOnce читает новые письма и сверяет все запросы с новыми ответами.
// Ошибка чтения ящика не отменяет сверку уже сохраненных ответов.
// Если идет другой цикл, RunOnce ждет его завершения или отмены ctx.
func (s *CycleService) RunOnce(ctx context.Context) (CycleResult, error) {
	const op = "services.CycleService.RunOnce"

	select {
	case s.gate <- struct{}{}:
		defer func() { <-s.gate }()
	case <-ctx.Done():
		return CycleResult{}, fmt.Errorf("%s: waiting for running cycle: %w", op, ctx.Err())
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	var res CycleResult
	var errs []error

	ingest, err := s.Inbound.Ingest(ctx)
	res.Ingest = ingest
	if err != nil {
		errs = append(errs, err)
	}

	reconciled, err := s.Offers.ProcessPending(ctx)
	res.Reconcile = reconciled
	if err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// Loop выполняет RunOnce каждые interval до отмены ctx. Ошибки цикла
// логируются, следующий цикл начинается по расписанию.
func (s *CycleService) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := s.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			s.Logger.Error().Err(err).Msg("cycle failed")
		} else if err == nil {
			s.Logger.Debug().
				Int("inserted", res.Ingest.Inserted).
				Int("reconciled", len(res.Reconcile)).
				Msg("cycle finished")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
