package utils

import (
	"encoding/json"
	"net/http"

	"github.com/senyabanana/tender-negotiation/internal/models"

	"github.com/rs/zerolog/log"
)

// SendErrorResponse отправляет ошибку в формате JSON
func SendErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	errorResponse := models.ErrorResponse{
		StatusCode: statusCode,
		Message:    message,
	}
	SendJSON(w, statusCode, errorResponse)
}

// SendJSON отправляет тело ответа в формате JSON с указанным статусом
func SendJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// Contains - функция для проверки допустимости перехода статуса
func Contains[S ~string](valid []S, next S) bool {
	for _, s := range valid {
		if s == next {
			return true
		}
	}
	return false
}
