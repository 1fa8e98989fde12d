package repository

import (
	"context"
	"strings"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
)

// ParticipantRepository - интерфейс для работы с поставщиками.
type ParticipantRepository interface {
	CreateParticipant(ctx context.Context, name, email string) (*models.Participant, error)
	GetParticipant(ctx context.Context, participantId string, lock bool) (*models.Participant, error)
	GetParticipantsByIDs(ctx context.Context, ids []string) ([]models.Participant, error)
	UpdateParticipantStats(ctx context.Context, participantId string, stats models.ParticipantStats) error
}

// PostgresParticipantRepository - реализация ParticipantRepository для базы данных.
type PostgresParticipantRepository struct {
	DB DBTX
}

const participantColumns = `id, name, email, success_count, total_count, avg_score, avg_delivery_days,
	on_time_rate, rejection_count, last_awarded_at, rating, created_at, updated_at`

// CreateParticipant создает поставщика; при повторе email возвращает существующую запись.
func (r *PostgresParticipantRepository) CreateParticipant(ctx context.Context, name, email string) (*models.Participant, error) {
	var participant models.Participant
	query := `INSERT INTO participant (id, name, email, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $4)
	          ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
	          RETURNING ` + participantColumns
	err := pgxscan.Get(ctx, r.DB, &participant, query, uuid.New().String(), name, strings.ToLower(strings.TrimSpace(email)), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

// GetParticipant возвращает поставщика по ID.
func (r *PostgresParticipantRepository) GetParticipant(ctx context.Context, participantId string, lock bool) (*models.Participant, error) {
	var participant models.Participant
	query := `SELECT ` + participantColumns + ` FROM participant WHERE id = $1` + forUpdate(lock)
	if err := pgxscan.Get(ctx, r.DB, &participant, query, participantId); err != nil {
		return nil, notFound(err)
	}
	return &participant, nil
}

// GetParticipantsByIDs возвращает поставщиков одним запросом к базе.
func (r *PostgresParticipantRepository) GetParticipantsByIDs(ctx context.Context, ids []string) ([]models.Participant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var participants []models.Participant
	query := `SELECT ` + participantColumns + ` FROM participant WHERE id = ANY($1::text[]::uuid[])`
	if err := pgxscan.Select(ctx, r.DB, &participants, query, ids); err != nil {
		return nil, err
	}
	return participants, nil
}

// UpdateParticipantStats сохраняет пересчитанную статистику и рейтинг поставщика.
func (r *PostgresParticipantRepository) UpdateParticipantStats(ctx context.Context, participantId string, stats models.ParticipantStats) error {
	updateQuery := `UPDATE participant
	                SET success_count = $2, total_count = $3, avg_score = $4, avg_delivery_days = $5,
	                    on_time_rate = $6, rejection_count = $7, last_awarded_at = $8, rating = $9, updated_at = now()
	                WHERE id = $1`
	tag, err := r.DB.Exec(
		ctx,
		updateQuery,
		participantId,
		stats.SuccessCount,
		stats.TotalCount,
		stats.AvgScore,
		stats.AvgDeliveryDays,
		stats.OnTimeRate,
		stats.RejectionCount,
		stats.LastAwardedAt,
		stats.Rating)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
