package services

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/senyabanana/tender-negotiation/internal/models"
)

func TestCreateRequest(t *testing.T) {
	tests := []struct {
		name         string
		in           RequestInput
		wantCurrency string
		wantStatus   int
	}{
		{
			name:         "default currency",
			in:           RequestInput{Title: "Chairs", Items: []models.RequestItem{{Name: "Chair", Quantity: 10}}},
			wantCurrency: "USD",
		},
		{
			name:         "currency upper-cased",
			in:           RequestInput{Title: "Chairs", Currency: "eur", Items: []models.RequestItem{{Name: "Chair", Quantity: 10}}},
			wantCurrency: "EUR",
		},
		{
			name:       "blank item name",
			in:         RequestInput{Title: "Chairs", Items: []models.RequestItem{{Name: "  ", Quantity: 10}}},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewRequestService(newFakeStore())
			req, err := svc.CreateRequest(context.Background(), tt.in)
			if tt.wantStatus != 0 {
				var errorResponse *models.ErrorResponse
				if !errors.As(err, &errorResponse) || errorResponse.StatusCode != tt.wantStatus {
					t.Fatalf("err = %v, want status %d", err, tt.wantStatus)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateRequest: %v", err)
			}
			if req.Currency != tt.wantCurrency || req.Status != models.DraftRequest {
				t.Errorf("request = %s/%s, want %s/draft", req.Currency, req.Status, tt.wantCurrency)
			}
		})
	}
}

func TestGetRequestOffers(t *testing.T) {
	store := newFakeStore()
	svc := NewRequestService(store)
	req := store.seedRequest(models.EvaluatingRequest)
	p := store.seedParticipant("Alpha", "alpha@vendor.io")

	_, offers, err := svc.GetRequestOffers(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetRequestOffers: %v", err)
	}
	if offers == nil || len(offers) != 0 {
		t.Errorf("offers = %v, want an empty list", offers)
	}

	store.seedOffer(req.ID, p.ID, models.PendingOffer, 80, 10)
	_, offers, err = svc.GetRequestOffers(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetRequestOffers: %v", err)
	}
	if len(offers) != 1 {
		t.Errorf("offers = %d, want 1", len(offers))
	}

	if _, _, err := svc.GetRequestOffers(context.Background(), "request-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing request = %v, want ErrNotFound", err)
	}
}
