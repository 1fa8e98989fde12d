package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/models"
	"github.com/senyabanana/tender-negotiation/internal/repository"
)

// RequestInput - данные для создания запроса на закупку.
type RequestInput struct {
	Title             string               `json:"title" validate:"required,max=300"`
	Description       string               `json:"description"`
	MaxBudget         *float64             `json:"maxBudget" validate:"omitempty,gt=0"`
	Currency          string               `json:"currency" validate:"omitempty,len=3,alpha"`
	Deadline          *time.Time           `json:"deadline"`
	Terms             string               `json:"terms"`
	MinWarrantyMonths *int                 `json:"minWarrantyMonths" validate:"omitempty,gte=0"`
	Items             []models.RequestItem `json:"items" validate:"required,min=1,dive"`
	IssuerName        string               `json:"issuerName" validate:"max=200"`
	IssuerEmail       string               `json:"issuerEmail" validate:"omitempty,email"`
}

// RequestService управляет запросами на закупку.
type RequestService struct {
	Store repository.Store
}

// NewRequestService создаёт новый экземпляр RequestService.
func NewRequestService(store repository.Store) *RequestService {
	return &RequestService{Store: store}
}

// CreateRequest создает запрос в статусе draft.
func (s *RequestService) CreateRequest(ctx context.Context, in RequestInput) (*models.Request, error) {
	const op = "services.RequestService.CreateRequest"

	for _, item := range in.Items {
		if strings.TrimSpace(item.Name) == "" {
			return nil, models.NewErrorResponse(http.StatusBadRequest, "item name must not be empty")
		}
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = "USD"
	}

	req, err := s.Store.Requests().CreateRequest(ctx, models.Request{
		Title:             in.Title,
		Description:       in.Description,
		MaxBudget:         in.MaxBudget,
		Currency:          currency,
		Deadline:          in.Deadline,
		Terms:             in.Terms,
		MinWarrantyMonths: in.MinWarrantyMonths,
		Items:             in.Items,
		IssuerName:        in.IssuerName,
		IssuerEmail:       in.IssuerEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return req, nil
}

// GetRequestOffers возвращает запрос и все предложения по нему.
func (s *RequestService) GetRequestOffers(ctx context.Context, requestId string) (*models.Request, []models.Offer, error) {
	const op = "services.RequestService.GetRequestOffers"

	req, err := s.Store.Requests().GetRequest(ctx, requestId, false)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	offers, err := s.Store.Offers().ListOffersByRequest(ctx, requestId, false)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if offers == nil {
		offers = []models.Offer{}
	}
	return req, offers, nil
}
