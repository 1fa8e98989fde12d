package repository

import (
	"context"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
)

// OfferRepository - интерфейс для работы с предложениями.
type OfferRepository interface {
	CreateOffer(ctx context.Context, offer models.Offer) (*models.Offer, error)
	GetOffer(ctx context.Context, offerId string, lock bool) (*models.Offer, error)
	GetLiveOffer(ctx context.Context, requestId, participantId string, lock bool) (*models.Offer, error)
	UpdateOffer(ctx context.Context, offerId string, data models.OfferData, sourceMessageId *string) (*models.Offer, error)
	ReplaceLineItems(ctx context.Context, offerId string, items []models.OfferLineItem) ([]models.OfferLineItem, error)
	ListOffersByRequest(ctx context.Context, requestId string, lock bool) ([]models.Offer, error)
	ListOffersByParticipant(ctx context.Context, participantId string) ([]models.Offer, error)
	SetOfferStatus(ctx context.Context, offerId string, from, to models.OfferStatus) (bool, error)
}

// PostgresOfferRepository - реализация OfferRepository для базы данных.
type PostgresOfferRepository struct {
	DB DBTX
}

const offerColumns = `id, request_id, participant_id, status, version, total_price, currency, delivery_days,
	warranty_months, payment_terms, matches_requirements, score, score_rationale, source_message_id,
	created_at, updated_at`

// CreateOffer создает новое предложение версии 1 в статусе pending.
func (r *PostgresOfferRepository) CreateOffer(ctx context.Context, offer models.Offer) (*models.Offer, error) {
	now := time.Now().UTC()
	offer.ID = uuid.New().String()
	offer.Status = models.PendingOffer
	offer.Version = 1
	offer.CreatedAt = now
	offer.UpdatedAt = now

	insertQuery := `INSERT INTO offer (id, request_id, participant_id, status, version, total_price, currency,
	                delivery_days, warranty_months, payment_terms, matches_requirements, score, score_rationale,
	                source_message_id, created_at, updated_at)
	                VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.DB.Exec(
		ctx,
		insertQuery,
		offer.ID,
		offer.RequestID,
		offer.ParticipantID,
		offer.Status,
		offer.Version,
		offer.TotalPrice,
		offer.Currency,
		offer.DeliveryDays,
		offer.WarrantyMonths,
		offer.PaymentTerms,
		offer.MatchesRequirements,
		offer.Score,
		offer.ScoreRationale,
		offer.SourceMessageID,
		offer.CreatedAt,
		offer.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// GetOffer возвращает предложение по ID вместе с позициями.
func (r *PostgresOfferRepository) GetOffer(ctx context.Context, offerId string, lock bool) (*models.Offer, error) {
	var offer models.Offer
	query := `SELECT ` + offerColumns + ` FROM offer WHERE id = $1` + forUpdate(lock)
	if err := pgxscan.Get(ctx, r.DB, &offer, query, offerId); err != nil {
		return nil, notFound(err)
	}
	items, err := r.lineItems(ctx, offer.ID)
	if err != nil {
		return nil, err
	}
	offer.Items = items
	return &offer, nil
}

// GetLiveOffer возвращает неотклоненное предложение поставщика по запросу.
func (r *PostgresOfferRepository) GetLiveOffer(ctx context.Context, requestId, participantId string, lock bool) (*models.Offer, error) {
	var offer models.Offer
	query := `SELECT ` + offerColumns + ` FROM offer
	          WHERE request_id = $1 AND participant_id = $2 AND status <> 'rejected'` + forUpdate(lock)
	if err := pgxscan.Get(ctx, r.DB, &offer, query, requestId, participantId); err != nil {
		return nil, notFound(err)
	}
	return &offer, nil
}

// UpdateOffer обновляет поля предложения на месте и увеличивает версию.
func (r *PostgresOfferRepository) UpdateOffer(ctx context.Context, offerId string, data models.OfferData, sourceMessageId *string) (*models.Offer, error) {
	var offer models.Offer
	updateQuery := `UPDATE offer
	                SET total_price = $2, currency = $3, delivery_days = $4, warranty_months = $5,
	                    payment_terms = $6, matches_requirements = $7, score = $8, score_rationale = $9,
	                    source_message_id = $10, version = version + 1, updated_at = now()
	                WHERE id = $1 AND status = 'pending'
	                RETURNING ` + offerColumns
	err := pgxscan.Get(
		ctx,
		r.DB,
		&offer,
		updateQuery,
		offerId,
		data.TotalPrice,
		data.Currency,
		data.DeliveryDays,
		data.WarrantyMonths,
		data.PaymentTerms,
		data.MatchesRequirements,
		data.Score,
		data.ScoreRationale,
		sourceMessageId)
	if err != nil {
		return nil, notFound(err)
	}
	return &offer, nil
}

// ReplaceLineItems удаляет позиции предложения и вставляет новые.
func (r *PostgresOfferRepository) ReplaceLineItems(ctx context.Context, offerId string, items []models.OfferLineItem) ([]models.OfferLineItem, error) {
	if _, err := r.DB.Exec(ctx, `DELETE FROM offer_line_item WHERE offer_id = $1`, offerId); err != nil {
		return nil, err
	}

	insertQuery := `INSERT INTO offer_line_item (id, offer_id, name, quantity, unit, unit_price, total_price)
	                VALUES ($1, $2, $3, $4, $5, $6, $7)`
	stored := make([]models.OfferLineItem, 0, len(items))
	for _, item := range items {
		item.ID = uuid.New().String()
		item.OfferID = offerId
		_, err := r.DB.Exec(ctx, insertQuery, item.ID, item.OfferID, item.Name, item.Quantity, item.Unit, item.UnitPrice, item.TotalPrice)
		if err != nil {
			return nil, err
		}
		stored = append(stored, item)
	}
	return stored, nil
}

// ListOffersByRequest возвращает все предложения по запросу.
func (r *PostgresOfferRepository) ListOffersByRequest(ctx context.Context, requestId string, lock bool) ([]models.Offer, error) {
	var offers []models.Offer
	query := `SELECT ` + offerColumns + ` FROM offer WHERE request_id = $1 ORDER BY created_at` + forUpdate(lock)
	if err := pgxscan.Select(ctx, r.DB, &offers, query, requestId); err != nil {
		return nil, err
	}
	return offers, nil
}

// ListOffersByParticipant возвращает полную историю предложений поставщика.
func (r *PostgresOfferRepository) ListOffersByParticipant(ctx context.Context, participantId string) ([]models.Offer, error) {
	var offers []models.Offer
	query := `SELECT ` + offerColumns + ` FROM offer WHERE participant_id = $1 ORDER BY created_at`
	if err := pgxscan.Select(ctx, r.DB, &offers, query, participantId); err != nil {
		return nil, err
	}
	return offers, nil
}

// SetOfferStatus меняет статус предложения, только если текущий статус равен from.
func (r *PostgresOfferRepository) SetOfferStatus(ctx context.Context, offerId string, from, to models.OfferStatus) (bool, error) {
	updateQuery := `UPDATE offer SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`
	tag, err := r.DB.Exec(ctx, updateQuery, to, offerId, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresOfferRepository) lineItems(ctx context.Context, offerId string) ([]models.OfferLineItem, error) {
	var items []models.OfferLineItem
	query := `SELECT id, offer_id, name, quantity, unit, unit_price, total_price FROM offer_line_item WHERE offer_id = $1 ORDER BY name`
	if err := pgxscan.Select(ctx, r.DB, &items, query, offerId); err != nil {
		return nil, err
	}
	return items, nil
}
