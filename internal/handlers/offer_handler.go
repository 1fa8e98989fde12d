package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/services"
	"github.com/senyabanana/tender-negotiation/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// OfferHandler - структура для обработки HTTP-запросов по предложениям.
type OfferHandler struct {
	Offers          *services.OfferService
	Awards          *services.AwardService
	Cycle           *services.CycleService
	Logger          zerolog.Logger
	Timeout         time.Duration
	PipelineTimeout time.Duration
}

// NewOfferHandler создаёт новый экземпляр OfferHandler.
func NewOfferHandler(offers *services.OfferService, awards *services.AwardService, cycle *services.CycleService, logger zerolog.Logger, timeout, pipelineTimeout time.Duration) *OfferHandler {
	return &OfferHandler{
		Offers:          offers,
		Awards:          awards,
		Cycle:           cycle,
		Logger:          logger.With().Str("component", "http").Logger(),
		Timeout:         timeout,
		PipelineTimeout: pipelineTimeout,
	}
}

// Reconcile обрабатывает запросы на сверку ответов по одному запросу.
func (h *OfferHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.PipelineTimeout)
	defer cancel()

	requestId := strings.TrimSpace(chi.URLParam(r, "requestId"))
	res, err := h.Offers.ProcessReplies(ctx, requestId)
	if err != nil {
		sendServiceError(w, h.Logger, err, "failed to reconcile replies")
		return
	}
	utils.SendJSON(w, http.StatusOK, res)
}

// PollMailbox обрабатывает запросы на внеочередной цикл чтения почты и сверки.
func (h *OfferHandler) PollMailbox(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.PipelineTimeout)
	defer cancel()

	res, err := h.Cycle.RunOnce(ctx)
	if err != nil {
		sendServiceError(w, h.Logger, err, "mailbox cycle failed")
		return
	}
	utils.SendJSON(w, http.StatusOK, res)
}

// Award обрабатывает запросы на выбор победителя.
func (h *OfferHandler) Award(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	requestId := strings.TrimSpace(chi.URLParam(r, "requestId"))
	offerId := strings.TrimSpace(chi.URLParam(r, "offerId"))
	res, err := h.Awards.Award(ctx, requestId, offerId)
	if err != nil {
		sendServiceError(w, h.Logger, err, "failed to award offer")
		return
	}
	utils.SendJSON(w, http.StatusOK, res)
}

// Reject обрабатывает запросы на отклонение предложения.
func (h *OfferHandler) Reject(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	offerId := strings.TrimSpace(chi.URLParam(r, "offerId"))
	offer, err := h.Awards.Reject(ctx, offerId)
	if err != nil {
		sendServiceError(w, h.Logger, err, "failed to reject offer")
		return
	}
	utils.SendJSON(w, http.StatusOK, offer)
}
