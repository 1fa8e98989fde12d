package extraction

import (
	"encoding/json"
	"fmt"

	"github.com/senyabanana/tender-negotiation/internal/models"
)

const systemPrompt = `You extract supplier offers from email replies to a request for quotation.
Answer with exactly one JSON object and nothing else, using this shape:
{
  "items": [{"name": string, "quantity": number|null, "unit": string, "unit_price": number|null, "total_price": number|null}],
  "total_price": number|null,
  "currency": "ISO 4217 code"|null,
  "delivery_days": number|null,
  "warranty_months": number|null,
  "payment_terms": string,
  "matches_requirements": boolean|null,
  "vague_specs": boolean,
  "missing_items": [string],
  "score": number,
  "rationale": string
}
List only items the supplier actually offers. "missing_items" names requested items the reply does not cover.
"vague_specs" is true when the reply gives no concrete models, specifications or terms.
Use null for anything the reply does not state. Do not invent prices.`

type promptRequest struct {
	Title             string               `json:"title"`
	Description       string               `json:"description,omitempty"`
	Items             []models.RequestItem `json:"items"`
	MaxBudget         *float64             `json:"max_budget,omitempty"`
	Currency          string               `json:"currency"`
	Deadline          string               `json:"deadline,omitempty"`
	Terms             string               `json:"terms,omitempty"`
	MinWarrantyMonths *int                 `json:"min_warranty_months,omitempty"`
}

type promptHistory struct {
	Name            string  `json:"name"`
	SuccessCount    int     `json:"success_count"`
	TotalCount      int     `json:"total_count"`
	AvgScore        float64 `json:"avg_score"`
	AvgDeliveryDays float64 `json:"avg_delivery_days"`
	OnTimeRate      float64 `json:"on_time_rate"`
	Rating          float64 `json:"rating"`
}

type promptPayload struct {
	Request     promptRequest `json:"request"`
	Participant promptHistory `json:"participant_history"`
	Reply       string        `json:"reply"`
}

// BuildPrompt returns the system and user prompts for one reply.
func BuildPrompt(req models.Request, p models.Participant, body string) (system, user string, err error) {
	payload := promptPayload{
		Request: promptRequest{
			Title:             req.Title,
			Description:       req.Description,
			Items:             req.Items,
			MaxBudget:         req.MaxBudget,
			Currency:          NormalizeCurrency(req.Currency, DefaultCurrency),
			Terms:             req.Terms,
			MinWarrantyMonths: req.MinWarrantyMonths,
		},
		Participant: promptHistory{
			Name:            p.Name,
			SuccessCount:    p.SuccessCount,
			TotalCount:      p.TotalCount,
			AvgScore:        p.AvgScore,
			AvgDeliveryDays: p.AvgDeliveryDays,
			OnTimeRate:      p.OnTimeRate,
			Rating:          p.Rating,
		},
		Reply: body,
	}
	if req.Deadline != nil {
		payload.Request.Deadline = req.Deadline.Format("2006-01-02")
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal prompt: %w", err)
	}
	return systemPrompt, string(data), nil
}
