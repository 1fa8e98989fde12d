package main

import (
	"context"
	"fmt"

	"github.com/senyabanana/tender-negotiation/internal/correlation"
	"github.com/senyabanana/tender-negotiation/internal/db"
	"github.com/senyabanana/tender-negotiation/internal/delivery"
	"github.com/senyabanana/tender-negotiation/internal/extraction"
	"github.com/senyabanana/tender-negotiation/internal/handlers"
	"github.com/senyabanana/tender-negotiation/internal/mailbox"
	"github.com/senyabanana/tender-negotiation/internal/metrics"
	"github.com/senyabanana/tender-negotiation/internal/notify"
	"github.com/senyabanana/tender-negotiation/internal/replyaddr"
	"github.com/senyabanana/tender-negotiation/internal/repository"
	"github.com/senyabanana/tender-negotiation/internal/router/config"
	"github.com/senyabanana/tender-negotiation/internal/services"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// app держит все зависимости процесса, собранные вручную в newApp.
type app struct {
	cfg      config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	registry *prometheus.Registry
	queue    notify.Queue

	requests      *services.RequestService
	invitations   *services.InvitationService
	offers        *services.OfferService
	awards        *services.AwardService
	cycle         *services.CycleService
	notifications *services.NotificationService
	worker        *notify.Worker
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	pool, err := db.InitDb(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, pool: pool}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg, logger := a.cfg, a.logger

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	store := repository.NewPostgresStore(a.pool)

	replyRouter, err := replyaddr.NewRouter(cfg.ReplyBaseAddress, cfg.ReplyPrefix)
	if err != nil {
		return err
	}

	transport, err := delivery.NewSMTPTransport(delivery.SMTPConfig{
		Address:  cfg.SMTPAddress,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		Timeout:  cfg.SMTPTimeout,
	})
	if err != nil {
		return err
	}
	sender, err := delivery.NewSender(transport, delivery.Config{
		BaseDelay:      cfg.DeliveryBaseDelay,
		RateLimitDelay: cfg.RateLimitDelay,
	}, logger, m.DeliveryAttempt)
	if err != nil {
		return err
	}

	connector, err := mailbox.NewIMAPConnector(mailbox.IMAPConfig{
		Address:  cfg.IMAPAddress,
		Username: cfg.IMAPUsername,
		Password: cfg.IMAPPassword,
		Mailbox:  cfg.IMAPMailbox,
		Timeout:  cfg.IMAPTimeout,
	})
	if err != nil {
		return err
	}
	poller, err := mailbox.NewPoller(connector, logger, m.Polled)
	if err != nil {
		return err
	}
	resolver, err := correlation.NewResolver(replyRouter, store.Messages(), store.Invitations(), store.Participants(), store.Requests(), logger)
	if err != nil {
		return err
	}

	completer, err := extraction.NewOpenAICompleter(extraction.OpenAIConfig{
		APIKey:    cfg.OpenAIKey,
		BaseURL:   cfg.OpenAIBaseURL,
		Model:     cfg.OpenAIModel,
		Timeout:   cfg.OpenAITimeout,
		MaxTokens: cfg.OpenAIMaxTokens,
	})
	if err != nil {
		return err
	}
	extractor, err := extraction.NewExtractor(completer, logger)
	if err != nil {
		return err
	}

	if cfg.NATSURL != "" {
		q, err := notify.NewNATSQueue(notify.NATSConfig{
			URL:        cfg.NATSURL,
			Stream:     cfg.NATSStream,
			MaxDeliver: cfg.DeliveryMaxRetries,
			AckWait:    cfg.NATSAckWait,
		}, logger)
		if err != nil {
			return err
		}
		a.queue = q
	} else {
		logger.Info().Msg("NATS_URL not set, notification tasks stay in process")
		a.queue = notify.NewMemoryQueue(0, cfg.DeliveryMaxRetries, logger)
	}

	inbound := services.NewInboundService(store, poller, resolver, cfg.IMAPMailbox, m, logger)
	rating := services.NewRatingService(store, cfg.Scoring, logger)

	a.requests = services.NewRequestService(store)
	a.invitations = services.NewInvitationService(store, sender, replyRouter, cfg.SMTPFrom, cfg.DeliveryMaxRetries, cfg.WorkerConcurrency, m, logger)
	a.offers = services.NewOfferService(store, extractor, extraction.NewScorer(cfg.Scoring), cfg.WorkerConcurrency, m, logger)
	a.awards = services.NewAwardService(store, a.queue, m, logger)
	a.cycle = services.NewCycleService(inbound, a.offers, cfg.PipelineTimeout, logger)
	a.notifications = services.NewNotificationService(store, sender, replyRouter, rating, cfg.SMTPFrom, cfg.DeliveryMaxRetries, logger)
	a.worker = notify.NewWorker(a.queue, a.notifications, cfg.WorkerConcurrency, logger,
		notify.WithTaskObserver(m.Task),
		notify.WithRunObserver(m.ObserveRun))
	return nil
}

func (a *app) requestHandler() *handlers.RequestHandler {
	return handlers.NewRequestHandler(a.requests, a.invitations, a.logger, a.cfg.HTTPTimeout, a.cfg.PipelineTimeout)
}

func (a *app) offerHandler() *handlers.OfferHandler {
	return handlers.NewOfferHandler(a.offers, a.awards, a.cycle, a.logger, a.cfg.HTTPTimeout, a.cfg.PipelineTimeout)
}

// Close освобождает очередь задач и пул соединений.
func (a *app) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
