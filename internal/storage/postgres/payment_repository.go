package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

const paymentColumns = `id, order_id, payer_id, payment_method_id, amount, currency, status,
	transaction_id, authorization_code, response_code, capture_code, card_token,
	error_code, error_message, refund_amount, refund_reason, refund_code, version,
	created_at, updated_at, authorized_at, captured_at, failed_at, refunded_at`

const activePaymentConstraint = "uq_payments_active_per_order"

type paymentRepository struct {
	q querier
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{q: store.DB()}
}

func (r *paymentRepository) Create(ctx context.Context, p domain.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
	`,
		p.ID, p.OrderID, p.PayerID, p.PaymentMethodID, p.Amount, p.Currency, string(p.Status),
		nullString(p.TransactionID), p.AuthorizationCode, p.ResponseCode, p.CaptureCode, p.CardToken,
		p.ErrorCode, p.ErrorMessage, p.RefundAmount, p.RefundReason, p.RefundCode, p.Version,
		p.CreatedAt, p.UpdatedAt, nullTime(p.AuthorizedAt), nullTime(p.CapturedAt),
		nullTime(p.FailedAt), nullTime(p.RefundedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == activePaymentConstraint {
				return domain.ErrActivePaymentExists
			}
			return domain.ErrPaymentVersionConflict
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id string) (domain.Payment, error) {
	return r.getBy(ctx, `id = $1`, id)
}

func (r *paymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (domain.Payment, error) {
	if transactionID == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return r.getBy(ctx, `transaction_id = $1`, transactionID)
}

func (r *paymentRepository) getBy(ctx context.Context, where string, arg any) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	p, err := scanPayment(r.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	return p, nil
}

func (r *paymentRepository) Save(ctx context.Context, p domain.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE payments
		SET status = $1,
		    transaction_id = $2,
		    authorization_code = $3,
		    response_code = $4,
		    capture_code = $5,
		    error_code = $6,
		    error_message = $7,
		    refund_amount = $8,
		    refund_reason = $9,
		    refund_code = $10,
		    authorized_at = $11,
		    captured_at = $12,
		    failed_at = $13,
		    refunded_at = $14,
		    version = version + 1,
		    updated_at = $15
		WHERE id = $16
		  AND version = $17
	`,
		string(p.Status), nullString(p.TransactionID), p.AuthorizationCode, p.ResponseCode,
		p.CaptureCode, p.ErrorCode, p.ErrorMessage, p.RefundAmount, p.RefundReason, p.RefundCode,
		nullTime(p.AuthorizedAt), nullTime(p.CapturedAt), nullTime(p.FailedAt), nullTime(p.RefundedAt),
		p.UpdatedAt, p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.q, `SELECT 1 FROM payments WHERE id = $1`, p.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrPaymentNotFound
		}
		return domain.ErrPaymentVersionConflict
	}
	return nil
}

func (r *paymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	return r.list(ctx, `order_id = $1`, orderID, 0)
}

func (r *paymentRepository) ListByPayer(ctx context.Context, payerID string, limit int) ([]domain.Payment, error) {
	return r.list(ctx, `payer_id = $1`, payerID, limit)
}

func (r *paymentRepository) list(ctx context.Context, where string, arg any, limit int) ([]domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + where + ` ORDER BY created_at DESC, id DESC`
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.q.QueryContext(ctx, query+" LIMIT $2", arg, limit)
	} else {
		rows, err = r.q.QueryContext(ctx, query, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}

func (r *paymentRepository) HasActive(ctx context.Context, orderID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return rowExists(ctx, r.q, `
		SELECT 1 FROM payments
		WHERE order_id = $1 AND status IN ('NONE', 'AUTHORIZED')
		LIMIT 1
	`, orderID)
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		p                                         domain.Payment
		status                                    string
		transactionID                             sql.NullString
		authorizedAt, capturedAt, failedAt, refAt sql.NullTime
	)
	if err := row.Scan(
		&p.ID, &p.OrderID, &p.PayerID, &p.PaymentMethodID, &p.Amount, &p.Currency, &status,
		&transactionID, &p.AuthorizationCode, &p.ResponseCode, &p.CaptureCode, &p.CardToken,
		&p.ErrorCode, &p.ErrorMessage, &p.RefundAmount, &p.RefundReason, &p.RefundCode, &p.Version,
		&p.CreatedAt, &p.UpdatedAt, &authorizedAt, &capturedAt, &failedAt, &refAt,
	); err != nil {
		return domain.Payment{}, err
	}

	p.Status = domain.PaymentStatus(status)
	p.TransactionID = transactionID.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	p.AuthorizedAt = timeFromNull(authorizedAt)
	p.CapturedAt = timeFromNull(capturedAt)
	p.FailedAt = timeFromNull(failedAt)
	p.RefundedAt = timeFromNull(refAt)
	return p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
