package repository

import (
	"context"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
)

// InvitationRepository - интерфейс для работы с приглашениями поставщиков.
type InvitationRepository interface {
	CreateInvitation(ctx context.Context, requestId, participantId string) (*models.InvitationMapping, error)
	ListInvitations(ctx context.Context, requestId string) ([]models.InvitationMapping, error)
	GetInvitationsByTokens(ctx context.Context, tokens []string) ([]models.InvitationMapping, error)
	AssignReplyToken(ctx context.Context, invitationId, token string) (string, error)
	MarkInvitationSent(ctx context.Context, invitationId, messageId string, sentAt time.Time) (bool, error)
	MarkInvitationFailed(ctx context.Context, invitationId string) (bool, error)
}

// PostgresInvitationRepository - реализация InvitationRepository для базы данных.
type PostgresInvitationRepository struct {
	DB DBTX
}

const invitationColumns = `id, request_id, participant_id, invite_status, reply_token, last_message_id, sent_at, created_at`

// CreateInvitation создает приглашение не более одного раза на пару (запрос, поставщик).
func (r *PostgresInvitationRepository) CreateInvitation(ctx context.Context, requestId, participantId string) (*models.InvitationMapping, error) {
	insertQuery := `INSERT INTO request_participant (id, request_id, participant_id, invite_status, created_at)
	                VALUES ($1, $2, $3, 'pending', $4)
	                ON CONFLICT (request_id, participant_id) DO NOTHING`
	if _, err := r.DB.Exec(ctx, insertQuery, uuid.New().String(), requestId, participantId, time.Now().UTC()); err != nil {
		return nil, err
	}

	var mapping models.InvitationMapping
	query := `SELECT ` + invitationColumns + ` FROM request_participant WHERE request_id = $1 AND participant_id = $2`
	if err := pgxscan.Get(ctx, r.DB, &mapping, query, requestId, participantId); err != nil {
		return nil, notFound(err)
	}
	return &mapping, nil
}

// ListInvitations возвращает все приглашения по запросу.
func (r *PostgresInvitationRepository) ListInvitations(ctx context.Context, requestId string) ([]models.InvitationMapping, error) {
	var mappings []models.InvitationMapping
	query := `SELECT ` + invitationColumns + ` FROM request_participant WHERE request_id = $1 ORDER BY created_at`
	if err := pgxscan.Select(ctx, r.DB, &mappings, query, requestId); err != nil {
		return nil, err
	}
	return mappings, nil
}

// GetInvitationsByTokens возвращает приглашения по набору токенов одним запросом.
func (r *PostgresInvitationRepository) GetInvitationsByTokens(ctx context.Context, tokens []string) ([]models.InvitationMapping, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	var mappings []models.InvitationMapping
	query := `SELECT ` + invitationColumns + ` FROM request_participant WHERE reply_token = ANY($1::text[])`
	if err := pgxscan.Select(ctx, r.DB, &mappings, query, tokens); err != nil {
		return nil, err
	}
	return mappings, nil
}

// AssignReplyToken сохраняет токен, если у приглашения его еще нет, и возвращает действующий токен.
func (r *PostgresInvitationRepository) AssignReplyToken(ctx context.Context, invitationId, token string) (string, error) {
	var current *string
	err := r.DB.QueryRow(
		ctx,
		`UPDATE request_participant SET reply_token = $2 WHERE id = $1 AND reply_token IS NULL RETURNING reply_token`,
		invitationId,
		token,
	).Scan(&current)
	if err == nil && current != nil {
		return *current, nil
	}
	if err != nil && !pgxscan.NotFound(err) {
		return "", err
	}

	err = r.DB.QueryRow(ctx, `SELECT reply_token FROM request_participant WHERE id = $1`, invitationId).Scan(&current)
	if err != nil {
		return "", notFound(err)
	}
	if current == nil {
		return "", ErrNotFound
	}
	return *current, nil
}

// MarkInvitationSent переводит приглашение в sent, только если оно еще pending или failed.
// Возвращает false, если другая доставка уже отметила приглашение.
func (r *PostgresInvitationRepository) MarkInvitationSent(ctx context.Context, invitationId, messageId string, sentAt time.Time) (bool, error) {
	updateQuery := `UPDATE request_participant
	                SET invite_status = 'sent', last_message_id = $2, sent_at = $3
	                WHERE id = $1 AND invite_status IN ('pending', 'failed')`
	tag, err := r.DB.Exec(ctx, updateQuery, invitationId, messageId, sentAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkInvitationFailed переводит приглашение в failed, если оно не было доставлено.
func (r *PostgresInvitationRepository) MarkInvitationFailed(ctx context.Context, invitationId string) (bool, error) {
	tag, err := r.DB.Exec(
		ctx,
		`UPDATE request_participant SET invite_status = 'failed' WHERE id = $1 AND invite_status = 'pending'`,
		invitationId,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
