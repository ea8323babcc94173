// Package ledger is the single source of truth for subscription status,
// recorded charges and saved payment instruments.
package ledger

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"billing-workers/internal/common/errors"
	"billing-workers/internal/common/logger"
)

var ErrSubscriptionNotFound = stderrors.New("SUBSCRIPTION_NOT_FOUND")

type Store struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
}

func NewStore(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "ledger"}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the billing tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS payment_status_info (
			id SERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL UNIQUE,
			amount NUMERIC NOT NULL,
			currency VARCHAR(10) NULL,
			period TEXT NULL,
			trial BOOLEAN DEFAULT TRUE,
			is_active BOOLEAN DEFAULT TRUE,
			until TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS transaction_history (
			id SERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			amount NUMERIC NOT NULL,
			currency VARCHAR(10) NOT NULL,
			payment_id TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT NOW(),
			UNIQUE (user_id, payment_id)
		)`,
		`CREATE TABLE IF NOT EXISTS payment_methods (
			id SERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL UNIQUE,
			payment_method_id TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT NOW()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.NewLedgerUnavailableError("migrate", err)
		}
	}
	return nil
}

// GetSubscription reads the current billing state for one subscriber.
func (s *Store) GetSubscription(ctx context.Context, userID int64) (*Subscription, error) {
	var sub Subscription
	query := `SELECT user_id, amount, currency, period, trial, is_active, until
		FROM payment_status_info WHERE user_id = $1`
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&sub.UserID, &sub.Amount, &sub.Currency, &sub.Period, &sub.Trial, &sub.IsActive, &sub.Until,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, errors.NewLedgerUnavailableError("get subscription", err)
	}
	return &sub, nil
}

// ListActive returns one page of active subscriptions ordered by user_id so
// that a full scan visits every subscriber exactly once.
func (s *Store) ListActive(ctx context.Context, limit, offset int) ([]Subscription, error) {
	query := `SELECT user_id, amount, currency, period, trial, is_active, until
		FROM payment_status_info
		WHERE is_active = TRUE
		ORDER BY user_id
		LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, errors.NewLedgerUnavailableError("list active", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.UserID, &sub.Amount, &sub.Currency, &sub.Period,
			&sub.Trial, &sub.IsActive, &sub.Until); err != nil {
			return nil, errors.NewLedgerUnavailableError("scan active", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewLedgerUnavailableError("list active", err)
	}
	return subs, nil
}

// GetPaymentMethod returns the instrument on file, or empty if none is saved.
func (s *Store) GetPaymentMethod(ctx context.Context, userID int64) (string, error) {
	var methodRef string
	query := `SELECT payment_method_id FROM payment_methods WHERE user_id = $1`
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&methodRef)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", errors.NewLedgerUnavailableError("get payment method", err)
	}
	return methodRef, nil
}

// SavePaymentMethod overwrites the instrument on file for a subscriber.
func (s *Store) SavePaymentMethod(ctx context.Context, userID int64, methodRef string) error {
	query := `INSERT INTO payment_methods (user_id, payment_method_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			payment_method_id = EXCLUDED.payment_method_id,
			updated_at = EXCLUDED.updated_at`
	if _, err := s.db.ExecContext(ctx, query, userID, methodRef, s.now()); err != nil {
		return errors.NewLedgerUnavailableError("save payment method", err)
	}
	return nil
}

// RecordCharge applies the full effect of one successful charge in a single
// database transaction: the deduplicated transaction insert, the subscription
// extension/activation and, when MethodRef is set, the instrument refresh.
//
// The subscription update is gated on the transaction insert actually landing:
// a redelivered payment_id returns recorded=false and leaves the subscription
// untouched, so `until` can never be extended twice for the same charge.
func (s *Store) RecordCharge(ctx context.Context, rec ChargeRecord) (recorded bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.NewLedgerUnavailableError("begin record charge", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO transaction_history (user_id, amount, currency, payment_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, payment_id) DO NOTHING`,
		rec.UserID, rec.Amount, rec.Currency, rec.PaymentID, now,
	)
	if err != nil {
		return false, errors.NewLedgerUnavailableError("insert transaction", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewLedgerUnavailableError("insert transaction", err)
	}
	if inserted == 0 {
		// Duplicate delivery of the same payment_id. Not an error.
		if err = tx.Commit(); err != nil {
			return false, errors.NewLedgerUnavailableError("commit record charge", err)
		}
		s.logger.Info("duplicate payment ignored", map[string]interface{}{
			"userId":    rec.UserID,
			"paymentId": rec.PaymentID,
		})
		return false, nil
	}

	extension := PeriodDuration(rec.Period)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO payment_status_info (user_id, amount, currency, period, trial, is_active, until)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6::timestamp + make_interval(secs => $7))
		ON CONFLICT (user_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			period = EXCLUDED.period,
			trial = EXCLUDED.trial,
			is_active = TRUE,
			until = GREATEST(payment_status_info.until, $6::timestamp) + make_interval(secs => $7)`,
		rec.UserID, rec.Amount, rec.Currency, rec.Period, rec.Period == PeriodTrial,
		now, extension.Seconds(),
	)
	if err != nil {
		return false, errors.NewLedgerUnavailableError("extend subscription", err)
	}

	if rec.MethodRef != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO payment_methods (user_id, payment_method_id, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE SET
				payment_method_id = EXCLUDED.payment_method_id,
				updated_at = EXCLUDED.updated_at`,
			rec.UserID, rec.MethodRef, now,
		)
		if err != nil {
			return false, errors.NewLedgerUnavailableError("refresh payment method", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return false, errors.NewLedgerUnavailableError("commit record charge", err)
	}

	s.logger.Info("charge recorded", map[string]interface{}{
		"userId":    rec.UserID,
		"paymentId": rec.PaymentID,
		"period":    rec.Period,
	})
	return true, nil
}

// Deactivate flips the subscriber to inactive and clears the instrument on
// file in the same transaction. No instrument is retained for an inactive
// subscriber. The row itself is kept for transaction history.
func (s *Store) Deactivate(ctx context.Context, userID int64) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewLedgerUnavailableError("begin deactivate", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`UPDATE payment_status_info SET is_active = FALSE WHERE user_id = $1`, userID); err != nil {
		return errors.NewLedgerUnavailableError("deactivate subscription", err)
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM payment_methods WHERE user_id = $1`, userID); err != nil {
		return errors.NewLedgerUnavailableError("clear payment method", err)
	}

	if err = tx.Commit(); err != nil {
		return errors.NewLedgerUnavailableError("commit deactivate", err)
	}

	s.logger.Info("subscription deactivated", map[string]interface{}{"userId": userID})
	return nil
}

// GetDueDate returns the next renewal deadline for a subscriber.
func (s *Store) GetDueDate(ctx context.Context, userID int64) (time.Time, error) {
	var until time.Time
	query := `SELECT until FROM payment_status_info WHERE user_id = $1`
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&until)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrSubscriptionNotFound
		}
		return time.Time{}, errors.NewLedgerUnavailableError("get due date", err)
	}
	return until, nil
}
