package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound возвращается, когда запись не найдена.
var ErrNotFound = errors.New("record not found")

// DBTX - общий интерфейс для пула соединений и транзакции.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store объединяет репозитории, работающие поверх одного соединения или одной транзакции.
type Store interface {
	Requests() RequestRepository
	Participants() ParticipantRepository
	Invitations() InvitationRepository
	Messages() MessageRepository
	Offers() OfferRepository
	Cursors() CursorRepository

	// InTx выполняет fn в одной транзакции. Любая ошибка fn откатывает транзакцию целиком.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// PostgresStore - реализация Store для PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   DBTX
}

// NewPostgresStore создает Store поверх пула соединений.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

func (s *PostgresStore) Requests() RequestRepository {
	return &PostgresRequestRepository{DB: s.db}
}

func (s *PostgresStore) Participants() ParticipantRepository {
	return &PostgresParticipantRepository{DB: s.db}
}

func (s *PostgresStore) Invitations() InvitationRepository {
	return &PostgresInvitationRepository{DB: s.db}
}

func (s *PostgresStore) Messages() MessageRepository {
	return &PostgresMessageRepository{DB: s.db}
}

func (s *PostgresStore) Offers() OfferRepository {
	return &PostgresOfferRepository{DB: s.db}
}

func (s *PostgresStore) Cursors() CursorRepository {
	return &PostgresCursorRepository{DB: s.db}
}

// InTx открывает транзакцию; вложенный вызов переиспользует текущую.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Store) error) (err error) {
	if _, ok := s.db.(pgx.Tx); ok {
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(&PostgresStore{pool: s.pool, db: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if err == nil {
		return nil
	}
	if pgxscan.NotFound(err) {
		return ErrNotFound
	}
	return err
}

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}
