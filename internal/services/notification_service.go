package services

import (
	"context"
	"fmt"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/delivery"
	"github.com/senyabanana/tender-negotiation/internal/models"
	"github.com/senyabanana/tender-negotiation/internal/notify"
	"github.com/senyabanana/tender-negotiation/internal/replyaddr"
	"github.com/senyabanana/tender-negotiation/internal/repository"

	"github.com/rs/zerolog"
)

// NotificationService выполняет задачи из очереди: пересчет рейтинга и письма о решении.
type NotificationService struct {
	Store      repository.Store
	Sender     *delivery.Sender
	Router     *replyaddr.Router
	Rating     *RatingService
	From       string
	MaxRetries int
	Logger     zerolog.Logger
}

// NewNotificationService создаёт новый экземпляр NotificationService.
func NewNotificationService(store repository.Store, sender *delivery.Sender, router *replyaddr.Router, rating *RatingService, from string, maxRetries int, logger zerolog.Logger) *NotificationService {
	return &NotificationService{
		Store:      store,
		Sender:     sender,
		Router:     router,
		Rating:     rating,
		From:       from,
		MaxRetries: maxRetries,
		Logger:     logger.With().Str("component", "notifications").Logger(),
	}
}

// Handle реализует notify.Handler.
func (s *NotificationService) Handle(ctx context.Context, task notify.Task) error {
	switch task.Kind {
	case notify.KindRatingRecompute:
		_, err := s.Rating.Recompute(ctx, task.ParticipantID)
		return err
	case notify.KindAward:
		return s.sendDecision(ctx, task, true)
	case notify.KindReject:
		return s.sendDecision(ctx, task, false)
	default:
		s.Logger.Warn().Str("kind", string(task.Kind)).Msg("unknown task kind dropped")
		return nil
	}
}

// sendDecision отправляет поставщику письмо о решении по его предложению.
// Reply-To содержит токен приглашения, чтобы ответ попал в ту же переписку.
func (s *NotificationService) sendDecision(ctx context.Context, task notify.Task, awarded bool) error {
	const op = "services.NotificationService.sendDecision"

	req, err := s.Store.Requests().GetRequest(ctx, task.RequestID, false)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p, err := s.Store.Participants().GetParticipant(ctx, task.ParticipantID, false)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	from := s.From
	if from == "" {
		from = req.IssuerEmail
	}
	msg := delivery.Message{
		FromName: req.IssuerName,
		From:     from,
		To:       []string{p.Email},
		Subject:  decisionSubject(*req, awarded),
		Body:     decisionBody(*req, *p, awarded),
	}
	if replyTo, ok := s.replyTo(ctx, req.ID, p.ID); ok {
		msg.ReplyTo = replyTo
	}

	result := s.Sender.Send(ctx, msg, s.MaxRetries)
	if !result.Success {
		return fmt.Errorf("%s: %s after %d attempts: %w", op, result.Class, result.Attempts, result.Err)
	}

	_, err = s.Store.Messages().CreateOutbound(ctx, models.Message{
		RequestID:         req.ID,
		ParticipantID:     p.ID,
		ProviderMessageID: providerID(result.MessageID),
		Subject:           msg.Subject,
		FromAddress:       msg.From,
		ToAddresses:       msg.To,
		Body:              msg.Body,
		OccurredAt:        time.Now().UTC(),
	})
	if err != nil {
		// письмо уже ушло; повтор задачи отправил бы его второй раз
		s.Logger.Error().Err(err).Str("request_id", req.ID).Msg("failed to record decision notification")
	}
	return nil
}

func (s *NotificationService) replyTo(ctx context.Context, requestId, participantId string) (string, bool) {
	if s.Router == nil {
		return "", false
	}
	mappings, err := s.Store.Invitations().ListInvitations(ctx, requestId)
	if err != nil {
		s.Logger.Warn().Err(err).Str("request_id", requestId).Msg("failed to load invitations")
		return "", false
	}
	for _, m := range mappings {
		if m.ParticipantID != participantId || m.Token() == "" {
			continue
		}
		addr, err := s.Router.Encode(m.Token())
		if err != nil {
			return "", false
		}
		return addr, true
	}
	return "", false
}
