package repository

import (
	"context"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
)

// RequestRepository - интерфейс для работы с запросами на закупку.
type RequestRepository interface {
	CreateRequest(ctx context.Context, req models.Request) (*models.Request, error)
	GetRequest(ctx context.Context, requestId string, lock bool) (*models.Request, error)
	GetRequestsByIDs(ctx context.Context, ids []string) ([]models.Request, error)
	AdvanceRequestStatus(ctx context.Context, requestId string, from []models.RequestStatus, to models.RequestStatus) (bool, error)
	MarkReconciled(ctx context.Context, requestId string, at time.Time) error
	ListRequestsWithNewReplies(ctx context.Context) ([]string, error)
}

// PostgresRequestRepository - реализация RequestRepository для базы данных.
type PostgresRequestRepository struct {
	DB DBTX
}

const requestColumns = `id, title, description, max_budget, currency, deadline, terms, min_warranty_months,
	items, status, issuer_name, issuer_email, last_reconciled_at, created_at, updated_at`

// CreateRequest создает новый запрос в статусе draft.
func (r *PostgresRequestRepository) CreateRequest(ctx context.Context, req models.Request) (*models.Request, error) {
	now := time.Now().UTC()
	req.ID = uuid.New().String()
	req.Status = models.DraftRequest
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Items == nil {
		req.Items = []models.RequestItem{}
	}

	insertQuery := `INSERT INTO request (id, title, description, max_budget, currency, deadline, terms,
                    min_warranty_months, items, status, issuer_name, issuer_email, created_at, updated_at)
                    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.DB.Exec(
		ctx,
		insertQuery,
		req.ID,
		req.Title,
		req.Description,
		req.MaxBudget,
		req.Currency,
		req.Deadline,
		req.Terms,
		req.MinWarrantyMonths,
		req.Items,
		req.Status,
		req.IssuerName,
		req.IssuerEmail,
		req.CreatedAt,
		req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// GetRequest возвращает запрос по ID; при lock строка блокируется до конца транзакции.
func (r *PostgresRequestRepository) GetRequest(ctx context.Context, requestId string, lock bool) (*models.Request, error) {
	var req models.Request
	query := `SELECT ` + requestColumns + ` FROM request WHERE id = $1` + forUpdate(lock)
	if err := pgxscan.Get(ctx, r.DB, &req, query, requestId); err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

// GetRequestsByIDs возвращает запросы одним запросом к базе.
func (r *PostgresRequestRepository) GetRequestsByIDs(ctx context.Context, ids []string) ([]models.Request, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var requests []models.Request
	query := `SELECT ` + requestColumns + ` FROM request WHERE id = ANY($1::text[]::uuid[])`
	if err := pgxscan.Select(ctx, r.DB, &requests, query, ids); err != nil {
		return nil, err
	}
	return requests, nil
}

// AdvanceRequestStatus переводит запрос в статус to, только если текущий статус входит в from.
func (r *PostgresRequestRepository) AdvanceRequestStatus(ctx context.Context, requestId string, from []models.RequestStatus, to models.RequestStatus) (bool, error) {
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}
	updateQuery := `UPDATE request SET status = $1, updated_at = now() WHERE id = $2 AND status = ANY($3)`
	tag, err := r.DB.Exec(ctx, updateQuery, to, requestId, allowed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkReconciled фиксирует время последней сверки предложений по запросу.
func (r *PostgresRequestRepository) MarkReconciled(ctx context.Context, requestId string, at time.Time) error {
	_, err := r.DB.Exec(ctx, `UPDATE request SET last_reconciled_at = $1 WHERE id = $2`, at, requestId)
	return err
}

// ListRequestsWithNewReplies возвращает открытые запросы, по которым пришли ответы после последней сверки.
func (r *PostgresRequestRepository) ListRequestsWithNewReplies(ctx context.Context) ([]string, error) {
	query := `
		SELECT r.id
		FROM request r
		WHERE r.status IN ('sent', 'evaluating')
		AND EXISTS (
			SELECT 1 FROM message m
			WHERE m.request_id = r.id
			AND m.direction = 'inbound'
			AND (r.last_reconciled_at IS NULL OR m.created_at > r.last_reconciled_at)
		)
		ORDER BY r.created_at`
	var ids []string
	if err := pgxscan.Select(ctx, r.DB, &ids, query); err != nil {
		return nil, err
	}
	return ids, nil
}
