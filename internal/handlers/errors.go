package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/senyabanana/tender-negotiation/internal/models"
	"github.com/senyabanana/tender-negotiation/internal/services"
	"github.com/senyabanana/tender-negotiation/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// validate проверяет тела запросов по тегам validate.
var validate = validator.New(validator.WithRequiredStructEnabled())

// statusFor переводит ошибку сервиса в HTTP-статус и сообщение для клиента.
// Неизвестные ошибки отдаются как 500 с сообщением fallback.
func statusFor(err error, fallback string) (int, string) {
	var errorResponse *models.ErrorResponse
	switch {
	case errors.As(err, &errorResponse):
		return errorResponse.StatusCode, errorResponse.Message
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, services.ErrRequestClosed):
		return http.StatusConflict, services.ErrRequestClosed.Error()
	case errors.Is(err, services.ErrOfferAwarded):
		return http.StatusConflict, services.ErrOfferAwarded.Error()
	case errors.Is(err, services.ErrOfferAlreadyRejected):
		return http.StatusConflict, services.ErrOfferAlreadyRejected.Error()
	case errors.Is(err, services.ErrOfferMismatch):
		return http.StatusBadRequest, services.ErrOfferMismatch.Error()
	}
	return http.StatusInternalServerError, fallback
}

// sendServiceError логирует ошибку и отправляет клиенту ответ с подходящим статусом.
func sendServiceError(w http.ResponseWriter, logger zerolog.Logger, err error, fallback string) {
	status, message := statusFor(err, fallback)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg(fallback)
	} else {
		logger.Info().Err(err).Int("status", status).Msg("request refused")
	}
	utils.SendErrorResponse(w, status, message)
}

// decodeBody читает JSON-тело в dst и проверяет его теги validate.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return models.NewErrorResponse(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return models.NewErrorResponse(http.StatusBadRequest, describe(verrs))
		}
		return models.NewErrorResponse(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	return "invalid fields: " + strings.Join(parts, "; ")
}
