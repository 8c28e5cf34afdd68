package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound 조회 대상 레코드 없음
	ErrNotFound = stderrors.New("record not found")
	// ErrDuplicate 유니크 제약 위반
	ErrDuplicate = stderrors.New("duplicate record")
)

const pqUniqueViolation = "23505"

// Querier *sql.DB 와 *sql.Tx 공통 인터페이스
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxManager 여러 엔티티를 하나의 원자 단위로 변경하기 위한 트랜잭션 관리자
type TxManager interface {
	DB() Querier
	WithinTx(ctx context.Context, fn func(tx Querier) error) error
}

type sqlTxManager struct {
	db *sql.DB
}

// NewTxManager database/sql 기반 트랜잭션 관리자 생성
func NewTxManager(db *sql.DB) TxManager {
	return &sqlTxManager{db: db}
}

func (m *sqlTxManager) DB() Querier {
	return m.db
}

// WithinTx fn이 에러를 반환하면 롤백, 아니면 커밋
func (m *sqlTxManager) WithinTx(ctx context.Context, fn func(tx Querier) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// 과거 레코드에 NULL 금액이 섞여 있어도 0으로 정규화
func decimalOrZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}
