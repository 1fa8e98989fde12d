package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/delivery"
	"github.com/senyabanana/tender-negotiation/internal/metrics"
	"github.com/senyabanana/tender-negotiation/internal/models"
	"github.com/senyabanana/tender-negotiation/internal/replyaddr"
	"github.com/senyabanana/tender-negotiation/internal/repository"
	"github.com/senyabanana/tender-negotiation/internal/runner"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SendResult - итог рассылки приглашений по запросу.
type SendResult struct {
	RequestID   string               `json:"requestId"`
	Sent        int                  `json:"sent"`
	Failed      int                  `json:"failed"`
	AlreadySent int                  `json:"alreadySent"`
	Status      models.RequestStatus `json:"status"`
}

// ParticipantInput - поставщик, которого нужно пригласить.
type ParticipantInput struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email,max=320"`
}

// InvitationService приглашает поставщиков и рассылает им письма с адресом для ответа.
type InvitationService struct {
	Store       repository.Store
	Sender      *delivery.Sender
	Router      *replyaddr.Router
	From        string
	MaxRetries  int
	Concurrency int
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// NewInvitationService создаёт новый экземпляр InvitationService.
func NewInvitationService(store repository.Store, sender *delivery.Sender, router *replyaddr.Router, from string, maxRetries, concurrency int, m *metrics.Metrics, logger zerolog.Logger) *InvitationService {
	if concurrency < 1 {
		concurrency = runner.DefaultConcurrency
	}
	return &InvitationService{
		Store:       store,
		Sender:      sender,
		Router:      router,
		From:        from,
		MaxRetries:  maxRetries,
		Concurrency: concurrency,
		Metrics:     m,
		Logger:      logger.With().Str("component", "invitations").Logger(),
	}
}

// Invite регистрирует поставщиков и создает приглашения по запросу.
// Повторное приглашение того же поставщика возвращает существующую запись.
func (s *InvitationService) Invite(ctx context.Context, requestId string, inputs []ParticipantInput) ([]models.InvitationMapping, error) {
	const op = "services.InvitationService.Invite"

	var mappings []models.InvitationMapping
	err := s.Store.InTx(ctx, func(tx repository.Store) error {
		req, err := tx.Requests().GetRequest(ctx, requestId, false)
		if err != nil {
			return err
		}
		if req.Status == models.ClosedRequest {
			return ErrRequestClosed
		}
		for _, in := range inputs {
			p, err := tx.Participants().CreateParticipant(ctx, in.Name, in.Email)
			if err != nil {
				return err
			}
			m, err := tx.Invitations().CreateInvitation(ctx, req.ID, p.ID)
			if err != nil {
				return err
			}
			mappings = append(mappings, *m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return mappings, nil
}

type invitationJob struct {
	mapping     models.InvitationMapping
	participant models.Participant
	token       string
}

// Send рассылает приглашения по запросу. Токен ответа создается и сохраняется
// до первой отправки. Уже доставленные приглашения пропускаются без обращения
// к почтовому серверу. Запрос переходит из draft в sent, если ушло хотя бы одно письмо.
func (s *InvitationService) Send(ctx context.Context, requestId string) (*SendResult, error) {
	const op = "services.InvitationService.Send"

	res := &SendResult{RequestID: requestId}
	req, err := s.Store.Requests().GetRequest(ctx, requestId, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res.Status = req.Status
	if req.Status == models.ClosedRequest {
		return nil, fmt.Errorf("%s: %w", op, ErrRequestClosed)
	}

	mappings, err := s.Store.Invitations().ListInvitations(ctx, requestId)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ids := make([]string, 0, len(mappings))
	for _, m := range mappings {
		ids = append(ids, m.ParticipantID)
	}
	participants, err := s.Store.Participants().GetParticipantsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	byID := make(map[string]models.Participant, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
	}

	jobs := make([]invitationJob, 0, len(mappings))
	for _, m := range mappings {
		if m.InviteStatus == models.SentInvite {
			res.AlreadySent++
			continue
		}
		p, ok := byID[m.ParticipantID]
		if !ok {
			return nil, fmt.Errorf("%s: participant %s: %w", op, m.ParticipantID, ErrNotFound)
		}
		token, err := s.ensureToken(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		jobs = append(jobs, invitationJob{mapping: m, participant: p, token: token})
	}

	var sent atomic.Int64
	run := runner.Run(ctx, jobs, s.Concurrency, func(ctx context.Context, job invitationJob) error {
		if err := s.deliver(ctx, *req, job); err != nil {
			return err
		}
		sent.Add(1)
		return nil
	},
		runner.WithName("invitations"),
		runner.WithLogger(s.Logger),
		runner.WithObserver(s.Metrics.ObserveRun))
	res.Sent = int(sent.Load())
	res.Failed = run.Failed

	if res.Sent > 0 {
		advanced, err := s.Store.Requests().AdvanceRequestStatus(ctx, requestId,
			[]models.RequestStatus{models.DraftRequest}, models.SentRequest)
		if err != nil {
			return res, fmt.Errorf("%s: %w", op, err)
		}
		if advanced {
			res.Status = models.SentRequest
		}
	}

	s.Logger.Info().
		Str("request_id", requestId).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("already_sent", res.AlreadySent).
		Msg("invitations dispatched")
	return res, nil
}

func (s *InvitationService) ensureToken(ctx context.Context, m models.InvitationMapping) (string, error) {
	if token := m.Token(); token != "" {
		return token, nil
	}
	token, err := replyaddr.NewToken()
	if err != nil {
		return "", err
	}
	stored, err := s.Store.Invitations().AssignReplyToken(ctx, m.ID, token)
	if err != nil {
		return "", err
	}
	s.Logger.Debug().Str("invitation_id", m.ID).Str("token", replyaddr.Mask(stored)).Msg("reply token assigned")
	return stored, nil
}

// deliver отправляет одно приглашение и фиксирует результат.
func (s *InvitationService) deliver(ctx context.Context, req models.Request, job invitationJob) error {
	replyTo, err := s.Router.Encode(job.token)
	if err != nil {
		return err
	}
	msg := delivery.Message{
		FromName: req.IssuerName,
		From:     s.fromAddress(req),
		ReplyTo:  replyTo,
		To:       []string{job.participant.Email},
		Subject:  invitationSubject(req),
		Body:     invitationBody(req, job.participant),
	}

	result := s.Sender.Send(ctx, msg, s.MaxRetries)
	if !result.Success {
		if _, markErr := s.Store.Invitations().MarkInvitationFailed(ctx, job.mapping.ID); markErr != nil {
			return errors.Join(result.Err, markErr)
		}
		return fmt.Errorf("invitation %s (%s after %d attempts): %w", job.mapping.ID, result.Class, result.Attempts, result.Err)
	}

	now := time.Now().UTC()
	return s.Store.InTx(ctx, func(tx repository.Store) error {
		out, err := tx.Messages().CreateOutbound(ctx, models.Message{
			RequestID:         req.ID,
			ParticipantID:     job.participant.ID,
			ProviderMessageID: providerID(result.MessageID),
			Subject:           msg.Subject,
			FromAddress:       msg.From,
			ToAddresses:       msg.To,
			Body:              msg.Body,
			OccurredAt:        now,
		})
		if err != nil {
			return err
		}
		_, err = tx.Invitations().MarkInvitationSent(ctx, job.mapping.ID, out.ID, now)
		return err
	})
}

func (s *InvitationService) fromAddress(req models.Request) string {
	if s.From != "" {
		return s.From
	}
	return req.IssuerEmail
}

// providerID подставляет синтетический идентификатор, если транспорт его не вернул.
func providerID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String() + "@outbound.local"
}
