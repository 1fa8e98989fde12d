package repository

import (
	"context"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
)

// MessageRepository - интерфейс для работы с письмами.
type MessageRepository interface {
	ExistingProviderIDs(ctx context.Context, providerIds []string) ([]string, error)
	InsertInbound(ctx context.Context, messages []models.Message) (int, error)
	CreateOutbound(ctx context.Context, msg models.Message) (*models.Message, error)
	ListInbound(ctx context.Context, requestId string) ([]models.Message, error)
}

// PostgresMessageRepository - реализация MessageRepository для базы данных.
type PostgresMessageRepository struct {
	DB DBTX
}

const messageColumns = `id, request_id, participant_id, direction, provider_message_id, subject, from_address,
	to_addresses, body, occurred_at, created_at`

// ExistingProviderIDs возвращает уже сохраненные идентификаторы писем из переданного набора.
func (r *PostgresMessageRepository) ExistingProviderIDs(ctx context.Context, providerIds []string) ([]string, error) {
	if len(providerIds) == 0 {
		return nil, nil
	}
	var existing []string
	query := `SELECT provider_message_id FROM message WHERE provider_message_id = ANY($1::text[])`
	if err := pgxscan.Select(ctx, r.DB, &existing, query, providerIds); err != nil {
		return nil, err
	}
	return existing, nil
}

// InsertInbound сохраняет входящие письма. Повторный provider_message_id пропускается.
// Возвращает количество реально вставленных писем.
func (r *PostgresMessageRepository) InsertInbound(ctx context.Context, messages []models.Message) (int, error) {
	insertQuery := `INSERT INTO message (id, request_id, participant_id, direction, provider_message_id, subject,
	                from_address, to_addresses, body, occurred_at, created_at)
	                VALUES ($1, $2, $3, 'inbound', $4, $5, $6, $7, $8, $9, $10)
	                ON CONFLICT (provider_message_id) DO NOTHING`
	inserted := 0
	now := time.Now().UTC()
	for _, msg := range messages {
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		if msg.ToAddresses == nil {
			msg.ToAddresses = []string{}
		}
		tag, err := r.DB.Exec(
			ctx,
			insertQuery,
			msg.ID,
			msg.RequestID,
			msg.ParticipantID,
			msg.ProviderMessageID,
			msg.Subject,
			msg.FromAddress,
			msg.ToAddresses,
			msg.Body,
			msg.OccurredAt,
			now)
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// CreateOutbound сохраняет отправленное письмо.
func (r *PostgresMessageRepository) CreateOutbound(ctx context.Context, msg models.Message) (*models.Message, error) {
	msg.ID = uuid.New().String()
	msg.Direction = models.OutboundMessage
	msg.CreatedAt = time.Now().UTC()
	if msg.ToAddresses == nil {
		msg.ToAddresses = []string{}
	}

	insertQuery := `INSERT INTO message (id, request_id, participant_id, direction, provider_message_id, subject,
	                from_address, to_addresses, body, occurred_at, created_at)
	                VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.DB.Exec(
		ctx,
		insertQuery,
		msg.ID,
		msg.RequestID,
		msg.ParticipantID,
		msg.Direction,
		msg.ProviderMessageID,
		msg.Subject,
		msg.FromAddress,
		msg.ToAddresses,
		msg.Body,
		msg.OccurredAt,
		msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListInbound возвращает входящие письма по запросу, новые первыми.
func (r *PostgresMessageRepository) ListInbound(ctx context.Context, requestId string) ([]models.Message, error) {
	var messages []models.Message
	query := `SELECT ` + messageColumns + ` FROM message
	          WHERE request_id = $1 AND direction = 'inbound'
	          ORDER BY occurred_at DESC`
	if err := pgxscan.Select(ctx, r.DB, &messages, query, requestId); err != nil {
		return nil, err
	}
	return messages, nil
}
