package services

import (
	"errors"

	"github.com/senyabanana/tender-negotiation/internal/repository"
)

// Ошибки состояния, которые обработчики переводят в HTTP-статусы через errors.Is.
var (
	ErrRequestClosed        = errors.New("request is closed")
	ErrOfferAwarded         = errors.New("offer is already awarded")
	ErrOfferAlreadyRejected = errors.New("offer is already rejected")
	ErrOfferMismatch        = errors.New("offer does not belong to request")
	ErrNotFound             = repository.ErrNotFound
)
