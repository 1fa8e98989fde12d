// Package correlation maps polled messages to the request and participant
// they answer, using the reply token carried in the recipient address.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/senyabanana/tender-negotiation/internal/mailbox"
	"github.com/senyabanana/tender-negotiation/internal/models"
	"github.com/senyabanana/tender-negotiation/internal/replyaddr"

	"github.com/rs/zerolog"
)

// SkipReason explains why a message was not resolved.
type SkipReason string

const (
	SkipNoToken            SkipReason = "no_token"
	SkipDuplicate          SkipReason = "duplicate"
	SkipNoMapping          SkipReason = "no_mapping"
	SkipMissingParticipant SkipReason = "missing_participant"
	SkipMissingRequest     SkipReason = "missing_request"
	SkipSenderMismatch     SkipReason = "sender_mismatch"
)

// Stats counts the outcome of one Resolve call.
type Stats struct {
	Seen     int
	Resolved int
	Skipped  map[SkipReason]int
}

func (s *Stats) skip(reason SkipReason) {
	if s.Skipped == nil {
		s.Skipped = make(map[SkipReason]int)
	}
	s.Skipped[reason]++
}

// TotalSkipped sums skips over every reason.
func (s Stats) TotalSkipped() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

// MessageLookup reports which provider message ids are already stored.
type MessageLookup interface {
	ExistingProviderIDs(ctx context.Context, providerIds []string) ([]string, error)
}

// InvitationLookup loads invitation mappings by reply token.
type InvitationLookup interface {
	GetInvitationsByTokens(ctx context.Context, tokens []string) ([]models.InvitationMapping, error)
}

// ParticipantLookup loads participants by id.
type ParticipantLookup interface {
	GetParticipantsByIDs(ctx context.Context, ids []string) ([]models.Participant, error)
}

// RequestLookup loads requests by id.
type RequestLookup interface {
	GetRequestsByIDs(ctx context.Context, ids []string) ([]models.Request, error)
}

// Resolver turns polled messages into inbound models.Message records.
type Resolver struct {
	router       *replyaddr.Router
	messages     MessageLookup
	invitations  InvitationLookup
	participants ParticipantLookup
	requests     RequestLookup
	logger       zerolog.Logger
}

// NewResolver creates a Resolver. All lookups are required.
func NewResolver(router *replyaddr.Router, messages MessageLookup, invitations InvitationLookup, participants ParticipantLookup, requests RequestLookup, logger zerolog.Logger) (*Resolver, error) {
	if router == nil || messages == nil || invitations == nil || participants == nil || requests == nil {
		return nil, errors.New("correlation: router and all lookups are required")
	}
	return &Resolver{
		router:       router,
		messages:     messages,
		invitations:  invitations,
		participants: participants,
		requests:     requests,
		logger:       logger.With().Str("component", "correlation").Logger(),
	}, nil
}

type candidate struct {
	msg   mailbox.Message
	token string
}

// Resolve matches msgs against invitation mappings with one batched lookup
// per record type. Messages without a token, already stored, duplicated in
// the batch, without a mapping, with a missing participant or request, or
// sent from an address other than the participant's are skipped.
func (r *Resolver) Resolve(ctx context.Context, msgs []mailbox.Message) ([]models.Message, Stats, error) {
	const op = "correlation.Resolve"

	stats := Stats{Seen: len(msgs)}
	if len(msgs) == 0 {
		return nil, stats, nil
	}

	candidates := make([]candidate, 0, len(msgs))
	providerIDs := make([]string, 0, len(msgs))
	tokenSet := make(map[string]struct{})
	for _, msg := range msgs {
		token, ok := r.router.DecodeAny(msg.To)
		if !ok {
			stats.skip(SkipNoToken)
			continue
		}
		candidates = append(candidates, candidate{msg: msg, token: token})
		providerIDs = append(providerIDs, msg.MessageID)
		tokenSet[token] = struct{}{}
	}
	if len(candidates) == 0 {
		return nil, stats, nil
	}

	existing, err := r.messages.ExistingProviderIDs(ctx, providerIDs)
	if err != nil {
		return nil, stats, fmt.Errorf("%s: existing messages: %w", op, err)
	}
	seen := make(map[string]struct{}, len(existing)+len(candidates))
	for _, id := range existing {
		seen[id] = struct{}{}
	}

	mappings, err := r.invitations.GetInvitationsByTokens(ctx, keys(tokenSet))
	if err != nil {
		return nil, stats, fmt.Errorf("%s: invitations: %w", op, err)
	}
	byToken := make(map[string]models.InvitationMapping, len(mappings))
	participantSet := make(map[string]struct{})
	requestSet := make(map[string]struct{})
	for _, m := range mappings {
		byToken[m.Token()] = m
		participantSet[m.ParticipantID] = struct{}{}
		requestSet[m.RequestID] = struct{}{}
	}

	participants, err := r.participants.GetParticipantsByIDs(ctx, keys(participantSet))
	if err != nil {
		return nil, stats, fmt.Errorf("%s: participants: %w", op, err)
	}
	participantByID := make(map[string]models.Participant, len(participants))
	for _, p := range participants {
		participantByID[p.ID] = p
	}

	requests, err := r.requests.GetRequestsByIDs(ctx, keys(requestSet))
	if err != nil {
		return nil, stats, fmt.Errorf("%s: requests: %w", op, err)
	}
	requestByID := make(map[string]struct{}, len(requests))
	for _, req := range requests {
		requestByID[req.ID] = struct{}{}
	}

	var resolved []models.Message
	for _, c := range candidates {
		if _, dup := seen[c.msg.MessageID]; dup {
			stats.skip(SkipDuplicate)
			continue
		}
		mapping, ok := byToken[c.token]
		if !ok {
			stats.skip(SkipNoMapping)
			r.logger.Debug().Str("token", replyaddr.Mask(c.token)).Msg("no invitation for token")
			continue
		}
		participant, ok := participantByID[mapping.ParticipantID]
		if !ok {
			stats.skip(SkipMissingParticipant)
			continue
		}
		if _, ok := requestByID[mapping.RequestID]; !ok {
			stats.skip(SkipMissingRequest)
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(c.msg.From), strings.TrimSpace(participant.Email)) {
			stats.skip(SkipSenderMismatch)
			r.logger.Warn().
				Str("request_id", mapping.RequestID).
				Str("participant_id", mapping.ParticipantID).
				Msg("sender does not match invited participant")
			continue
		}

		seen[c.msg.MessageID] = struct{}{}
		resolved = append(resolved, models.Message{
			RequestID:         mapping.RequestID,
			ParticipantID:     mapping.ParticipantID,
			Direction:         models.InboundMessage,
			ProviderMessageID: c.msg.MessageID,
			Subject:           c.msg.Subject,
			FromAddress:       c.msg.From,
			ToAddresses:       c.msg.To,
			Body:              c.msg.Body,
			OccurredAt:        c.msg.ReceivedAt,
		})
	}
	stats.Resolved = len(resolved)
	return resolved, stats, nil
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
