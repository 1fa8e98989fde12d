package models

import "time"

type OfferStatus string // Статус предложения

const (
	PendingOffer  OfferStatus = "pending"  // Предложение рассматривается
	AwardedOffer  OfferStatus = "awarded"  // Предложение выбрано победителем
	RejectedOffer OfferStatus = "rejected" // Предложение отклонено
)

// OfferTransitions - допустимые переходы статусов предложения. awarded и rejected терминальные.
var OfferTransitions = map[OfferStatus][]OfferStatus{
	PendingOffer:  {AwardedOffer, RejectedOffer},
	AwardedOffer:  {},
	RejectedOffer: {},
}

// Offer представляет модель предложения поставщика по запросу.
type Offer struct {
	ID                  string          `json:"id" db:"id"`
	RequestID           string          `json:"requestId" db:"request_id"`
	ParticipantID       string          `json:"participantId" db:"participant_id"`
	Status              OfferStatus     `json:"status" db:"status"`
	Version             int             `json:"version" db:"version"`
	TotalPrice          *float64        `json:"totalPrice,omitempty" db:"total_price"`
	Currency            string          `json:"currency" db:"currency"`
	DeliveryDays        *int            `json:"deliveryDays,omitempty" db:"delivery_days"`
	WarrantyMonths      *int            `json:"warrantyMonths,omitempty" db:"warranty_months"`
	PaymentTerms        string          `json:"paymentTerms" db:"payment_terms"`
	MatchesRequirements *bool           `json:"matchesRequirements,omitempty" db:"matches_requirements"`
	Score               float64         `json:"score" db:"score"`
	ScoreRationale      string          `json:"scoreRationale" db:"score_rationale"`
	SourceMessageID     *string         `json:"sourceMessageId,omitempty" db:"source_message_id"`
	CreatedAt           time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time       `json:"updatedAt" db:"updated_at"`
	Items               []OfferLineItem `json:"items" db:"-"`
}

// OfferLineItem - позиция предложения. Принадлежит предложению и заменяется целиком при обновлении.
type OfferLineItem struct {
	ID         string   `json:"id" db:"id"`
	OfferID    string   `json:"-" db:"offer_id"`
	Name       string   `json:"name" db:"name"`
	Quantity   *float64 `json:"quantity,omitempty" db:"quantity"`
	Unit       string   `json:"unit" db:"unit"`
	UnitPrice  *float64 `json:"unitPrice,omitempty" db:"unit_price"`
	TotalPrice *float64 `json:"totalPrice,omitempty" db:"total_price"`
}

// OfferData - нормализованные данные предложения, извлеченные из ответа поставщика.
type OfferData struct {
	TotalPrice          *float64
	Currency            string
	DeliveryDays        *int
	WarrantyMonths      *int
	PaymentTerms        string
	MatchesRequirements *bool
	Score               float64
	ScoreRationale      string
	Items               []OfferLineItem
}
