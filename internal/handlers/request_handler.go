package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/models"
	"github.com/senyabanana/tender-negotiation/internal/services"
	"github.com/senyabanana/tender-negotiation/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// RequestHandler - структура для обработки HTTP-запросов по запросам на закупку и приглашениям.
type RequestHandler struct {
	Requests        *services.RequestService
	Invitations     *services.InvitationService
	Logger          zerolog.Logger
	Timeout         time.Duration
	PipelineTimeout time.Duration
}

// NewRequestHandler создаёт новый экземпляр RequestHandler.
func NewRequestHandler(requests *services.RequestService, invitations *services.InvitationService, logger zerolog.Logger, timeout, pipelineTimeout time.Duration) *RequestHandler {
	return &RequestHandler{
		Requests:        requests,
		Invitations:     invitations,
		Logger:          logger.With().Str("component", "http").Logger(),
		Timeout:         timeout,
		PipelineTimeout: pipelineTimeout,
	}
}

// inviteBody - тело запроса на приглашение поставщиков.
type inviteBody struct {
	Participants []services.ParticipantInput `json:"participants" validate:"required,min=1,max=100,dive"`
}

// requestOffers - запрос вместе с предложениями по нему.
type requestOffers struct {
	Request *models.Request `json:"request"`
	Offers  []models.Offer  `json:"offers"`
}

// CreateRequest обрабатывает запросы для создания запроса на закупку.
func (h *RequestHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	var in services.RequestInput
	if err := decodeBody(r, &in); err != nil {
		sendServiceError(w, h.Logger, err, "invalid request body")
		return
	}

	req, err := h.Requests.CreateRequest(ctx, in)
	if err != nil {
		sendServiceError(w, h.Logger, err, "failed to create request")
		return
	}
	utils.SendJSON(w, http.StatusCreated, req)
}

// GetRequestOffers обрабатывает запросы для получения запроса и его предложений.
func (h *RequestHandler) GetRequestOffers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	requestId := strings.TrimSpace(chi.URLParam(r, "requestId"))
	req, offers, err := h.Requests.GetRequestOffers(ctx, requestId)
	if err != nil {
		sendServiceError(w, h.Logger, err, "failed to fetch offers")
		return
	}
	utils.SendJSON(w, http.StatusOK, requestOffers{Request: req, Offers: offers})
}

// InviteParticipants обрабатывает запросы для приглашения поставщиков.
func (h *RequestHandler) InviteParticipants(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	var body inviteBody
	if err := decodeBody(r, &body); err != nil {
		sendServiceError(w, h.Logger, err, "invalid request body")
		return
	}

	requestId := strings.TrimSpace(chi.URLParam(r, "requestId"))
	mappings, err := h.Invitations.Invite(ctx, requestId, body.Participants)
	if err != nil {
		sendServiceError(w, h.Logger, err, "failed to invite participants")
		return
	}
	utils.SendJSON(w, http.StatusOK, mappings)
}

// SendInvitations обрабатывает запросы для рассылки приглашений.
func (h *RequestHandler) SendInvitations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.PipelineTimeout)
	defer cancel()

	requestId := strings.TrimSpace(chi.URLParam(r, "requestId"))
	res, err := h.Invitations.Send(ctx, requestId)
	if err != nil {
		sendServiceError(w, h.Logger, err, "failed to send invitations")
		return
	}
	utils.SendJSON(w, http.StatusOK, res)
}
