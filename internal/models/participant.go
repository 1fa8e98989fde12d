package models

import "time"

// Participant представляет приглашенного поставщика и его накопленную статистику.
type Participant struct {
	ID              string     `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	Email           string     `json:"email" db:"email"`
	SuccessCount    int        `json:"successCount" db:"success_count"`
	TotalCount      int        `json:"totalCount" db:"total_count"`
	AvgScore        float64    `json:"avgScore" db:"avg_score"`
	AvgDeliveryDays float64    `json:"avgDeliveryDays" db:"avg_delivery_days"`
	OnTimeRate      float64    `json:"onTimeRate" db:"on_time_rate"`
	RejectionCount  int        `json:"rejectionCount" db:"rejection_count"`
	LastAwardedAt   *time.Time `json:"lastAwardedAt,omitempty" db:"last_awarded_at"`
	Rating          float64    `json:"rating" db:"rating"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time  `json:"updatedAt" db:"updated_at"`
}

// ParticipantStats - пересчитанная статистика поставщика по полной истории предложений.
type ParticipantStats struct {
	SuccessCount    int
	TotalCount      int
	AvgScore        float64
	AvgDeliveryDays float64
	OnTimeRate      float64
	RejectionCount  int
	LastAwardedAt   *time.Time
	Rating          float64
}
