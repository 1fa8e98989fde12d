// Package extraction turns free-text supplier replies into scored offers
// with the help of a completion service.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/senyabanana/tender-negotiation/internal/models"

	"github.com/rs/zerolog"
)

// Extraction is one participant's reply reduced to offer data.
type Extraction struct {
	Participant models.Participant
	Message     models.Message
	Normalized
}

// Extractor calls the completion service and normalizes its answer.
type Extractor struct {
	completer Completer
	logger    zerolog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(completer Completer, logger zerolog.Logger) (*Extractor, error) {
	if completer == nil {
		return nil, errors.New("extraction: nil completer")
	}
	return &Extractor{
		completer: completer,
		logger:    logger.With().Str("component", "extraction").Logger(),
	}, nil
}

// Extract builds the prompt for msg, calls the completion service and
// normalizes the reply. A reply without items returns ErrNoItems.
func (e *Extractor) Extract(ctx context.Context, req models.Request, p models.Participant, msg models.Message) (*Extraction, error) {
	const op = "extraction.Extract"

	if strings.TrimSpace(msg.Body) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoItems)
	}
	system, user, err := BuildPrompt(req, p, msg.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	text, err := e.completer.Complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	raw, err := ParseJSON(text)
	if err != nil {
		e.logger.Debug().Str("participant_id", p.ID).Int("length", len(text)).Msg("completion without JSON")
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	n, err := Normalize(raw, req.Currency)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Extraction{Participant: p, Message: msg, Normalized: n}, nil
}

// ScoreAll scores every extraction against the best price and delivery time
// seen across fresh and stored offers, filling Data.Score and
// Data.ScoreRationale in place.
func ScoreAll(s Scorer, req models.Request, fresh []*Extraction, stored []models.Offer) {
	bestPrice, bestDays := Bests(fresh, stored)
	for _, e := range fresh {
		res := s.Score(ScoreInput{
			TotalPrice:   e.Data.TotalPrice,
			DeliveryDays: e.Data.DeliveryDays,
			Vague:        e.Vague,
			MissingItems: len(e.MissingItems),
			HasPricing:   e.HasPricing,
			MaxBudget:    req.MaxBudget,
			BestPrice:    bestPrice,
			BestDays:     bestDays,
			Rating:       e.Participant.Rating,
		})
		e.Data.Score = res.Final
		e.Data.ScoreRationale = res.Rationale()
		if e.ModelRationale != "" {
			e.Data.ScoreRationale += ". " + e.ModelRationale
		}
	}
}

// SelectLatest keeps the most recent message per participant. Earlier
// messages are superseded, not merged.
func SelectLatest(messages []models.Message) []models.Message {
	latest := make(map[string]models.Message)
	for _, m := range messages {
		cur, ok := latest[m.ParticipantID]
		if !ok || m.OccurredAt.After(cur.OccurredAt) {
			latest[m.ParticipantID] = m
		}
	}
	out := make([]models.Message, 0, len(latest))
	for _, m := range latest {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}
