package extraction

import (
	"fmt"
	"strings"

	"github.com/senyabanana/tender-negotiation/internal/models"
	"github.com/senyabanana/tender-negotiation/internal/router/config"
)

// ScoreInput carries everything the scoring formula reads.
type ScoreInput struct {
	TotalPrice   *float64
	DeliveryDays *int
	Vague        bool
	MissingItems int
	HasPricing   bool
	MaxBudget    *float64
	BestPrice    float64
	BestDays     int
	Rating       float64
}

// ScoreResult is a final score with its parts.
type ScoreResult struct {
	Fundamentals float64
	HistoryBonus float64
	Final        float64
	Notes        []string
}

// Rationale renders the notes as one line.
func (r ScoreResult) Rationale() string {
	if len(r.Notes) == 0 {
		return fmt.Sprintf("score %.2f", r.Final)
	}
	return fmt.Sprintf("score %.2f: %s", r.Final, strings.Join(r.Notes, "; "))
}

// Scorer computes offer scores. Every offer of a request must be scored with
// the same constants so that scores stay comparable.
type Scorer struct {
	cfg config.Scoring
}

// NewScorer creates a Scorer with cfg.
func NewScorer(cfg config.Scoring) Scorer {
	return Scorer{cfg: cfg}
}

// Score applies Fundamentals and then the history adjustment, clamped to [0,100].
func (s Scorer) Score(in ScoreInput) ScoreResult {
	fundamentals, notes := s.Fundamentals(in)
	final, bonus := s.WithHistory(fundamentals, in.Rating)
	if bonus > 0 {
		notes = append(notes, fmt.Sprintf("history +%.2f", bonus))
	}
	return ScoreResult{Fundamentals: fundamentals, HistoryBonus: bonus, Final: final, Notes: notes}
}

// Fundamentals scores the offer alone: 100 minus price, delivery, vagueness,
// missing-item and no-pricing penalties, then the over-budget and
// missing-item caps. The result is not clamped.
func (s Scorer) Fundamentals(in ScoreInput) (float64, []string) {
	score := 100.0
	var notes []string

	if in.TotalPrice != nil && in.BestPrice > 0 && *in.TotalPrice > in.BestPrice {
		penalty := (*in.TotalPrice - in.BestPrice) / in.BestPrice * s.cfg.PriceWeight
		score -= penalty
		notes = append(notes, fmt.Sprintf("price above best -%.2f", penalty))
	}
	if in.DeliveryDays != nil && in.BestDays > 0 && *in.DeliveryDays > in.BestDays {
		penalty := float64(*in.DeliveryDays-in.BestDays) * s.cfg.DeliveryPenaltyDay
		score -= penalty
		notes = append(notes, fmt.Sprintf("delivery %d days over best -%.2f", *in.DeliveryDays-in.BestDays, penalty))
	}
	if in.Vague {
		score -= s.cfg.VaguePenalty
		notes = append(notes, fmt.Sprintf("vague specification -%.2f", s.cfg.VaguePenalty))
	}
	if in.MissingItems > 0 {
		penalty := float64(in.MissingItems) * s.cfg.MissingItemPenalty
		score -= penalty
		notes = append(notes, fmt.Sprintf("%d missing items -%.2f", in.MissingItems, penalty))
	}
	if !in.HasPricing {
		score -= s.cfg.NoPricingPenalty
		notes = append(notes, fmt.Sprintf("no quantities or prices -%.2f", s.cfg.NoPricingPenalty))
	}

	if in.TotalPrice != nil && in.MaxBudget != nil && *in.MaxBudget > 0 && *in.TotalPrice > s.cfg.OverBudgetRatio*(*in.MaxBudget) {
		if score > s.cfg.OverBudgetCap {
			score = s.cfg.OverBudgetCap
		}
		notes = append(notes, fmt.Sprintf("over budget, capped at %.0f", s.cfg.OverBudgetCap))
	}
	if in.MissingItems > 0 && score > s.cfg.MissingItemsCap {
		score = s.cfg.MissingItemsCap
		notes = append(notes, fmt.Sprintf("missing items, capped at %.0f", s.cfg.MissingItemsCap))
	}
	return score, notes
}

// WithHistory adds (rating/10) * HistoryBonus for participants rated at or
// above HistoryMinRating. Unrated participants get nothing. The result is
// clamped to [0,100] and rounded to two decimals.
func (s Scorer) WithHistory(fundamentals, rating float64) (final, bonus float64) {
	if rating >= s.cfg.HistoryMinRating {
		bonus = rating / 10 * s.cfg.HistoryBonus
	}
	return round2(Clamp(fundamentals+bonus, 0, 100)), bonus
}

// Bests returns the lowest positive total price and delivery time among
// fresh extractions and stored offers. Rejected stored offers and stored
// offers of participants present in fresh are ignored.
func Bests(fresh []*Extraction, stored []models.Offer) (bestPrice float64, bestDays int) {
	replaced := make(map[string]struct{}, len(fresh))
	consider := func(price *float64, days *int) {
		if price != nil && *price > 0 && (bestPrice == 0 || *price < bestPrice) {
			bestPrice = *price
		}
		if days != nil && *days > 0 && (bestDays == 0 || *days < bestDays) {
			bestDays = *days
		}
	}
	for _, e := range fresh {
		replaced[e.Participant.ID] = struct{}{}
		consider(e.Data.TotalPrice, e.Data.DeliveryDays)
	}
	for _, o := range stored {
		if o.Status == models.RejectedOffer {
			continue
		}
		if _, ok := replaced[o.ParticipantID]; ok {
			continue
		}
		consider(o.TotalPrice, o.DeliveryDays)
	}
	return bestPrice, bestDays
}
