package models

import "time"

type RequestStatus string // Статус запроса на закупку

const (
	DraftRequest      RequestStatus = "draft"      // Запрос создан, приглашения не отправлены
	SentRequest       RequestStatus = "sent"       // Приглашения отправлены
	EvaluatingRequest RequestStatus = "evaluating" // Получено хотя бы одно предложение
	ClosedRequest     RequestStatus = "closed"     // Победитель выбран
)

// requestStatusRank задает порядок статусов: статус запроса никогда не откатывается назад.
var requestStatusRank = map[RequestStatus]int{
	DraftRequest:      0,
	SentRequest:       1,
	EvaluatingRequest: 2,
	ClosedRequest:     3,
}

// CanAdvanceTo сообщает, является ли переход в next продвижением вперед.
func (s RequestStatus) CanAdvanceTo(next RequestStatus) bool {
	from, ok := requestStatusRank[s]
	if !ok {
		return false
	}
	to, ok := requestStatusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// RequestItem описывает одну позицию запроса.
type RequestItem struct {
	Name     string  `json:"name" validate:"required,max=300"`
	Quantity float64 `json:"quantity" validate:"gte=0"`
	Unit     string  `json:"unit,omitempty" validate:"max=50"`
}

// Request представляет модель запроса на закупку.
type Request struct {
	ID                string        `json:"id" db:"id"`
	Title             string        `json:"title" db:"title"`
	Description       string        `json:"description" db:"description"`
	MaxBudget         *float64      `json:"maxBudget,omitempty" db:"max_budget"`
	Currency          string        `json:"currency" db:"currency"`
	Deadline          *time.Time    `json:"deadline,omitempty" db:"deadline"`
	Terms             string        `json:"terms" db:"terms"`
	MinWarrantyMonths *int          `json:"minWarrantyMonths,omitempty" db:"min_warranty_months"`
	Items             []RequestItem `json:"items" db:"items"`
	Status            RequestStatus `json:"status" db:"status"`
	IssuerName        string        `json:"issuerName" db:"issuer_name"`
	IssuerEmail       string        `json:"issuerEmail" db:"issuer_email"`
	LastReconciledAt  *time.Time    `json:"lastReconciledAt,omitempty" db:"last_reconciled_at"`
	CreatedAt         time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time     `json:"updatedAt" db:"updated_at"`
}
