package repository

import (
	"context"
)

// CursorRepository - интерфейс для хранения позиции чтения почтового ящика.
type CursorRepository interface {
	GetCursor(ctx context.Context, mailbox string) (uint32, error)
	SaveCursor(ctx context.Context, mailbox string, lastSeen uint32) error
}

// PostgresCursorRepository - реализация CursorRepository для базы данных.
type PostgresCursorRepository struct {
	DB DBTX
}

// GetCursor возвращает последний обработанный номер письма; для нового ящика это 0.
func (r *PostgresCursorRepository) GetCursor(ctx context.Context, mailbox string) (uint32, error) {
	var lastSeen int64
	err := r.DB.QueryRow(ctx, `SELECT last_seen FROM poll_cursor WHERE mailbox = $1`, mailbox).Scan(&lastSeen)
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return uint32(lastSeen), nil
}

// SaveCursor сохраняет позицию чтения. Вызывается в той же транзакции, что и вставка писем.
func (r *PostgresCursorRepository) SaveCursor(ctx context.Context, mailbox string, lastSeen uint32) error {
	upsertQuery := `INSERT INTO poll_cursor (mailbox, last_seen, updated_at)
	                VALUES ($1, $2, now())
	                ON CONFLICT (mailbox) DO UPDATE SET last_seen = EXCLUDED.last_seen, updated_at = now()`
	_, err := r.DB.Exec(ctx, upsertQuery, mailbox, int64(lastSeen))
	return err
}
