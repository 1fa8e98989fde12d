package handlers

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// PingHandler обрабатывает GET запрос к /api/ping
func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, "ok"); err != nil {
		log.Error().Err(err).Msg("write ping response")
	}
}
