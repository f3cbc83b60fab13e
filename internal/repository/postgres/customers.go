package postgres

import (
	"context"
	"fmt"

	"github.com/banking/sar-governance/internal/domain"
	"github.com/shopspring/decimal"
)

func (s *Store) GetProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	const query = `
		SELECT customer_id, name, account_number, email, phone, address,
			occupation, onboarded_date, risk_rating
		FROM customers WHERE customer_id = $1
	`
	var p domain.CustomerProfile
	err := s.pool.QueryRow(ctx, query, customerID).Scan(
		&p.CustomerID, &p.Name, &p.AccountNumber, &p.Email, &p.Phone, &p.Address,
		&p.Occupation, &p.OnboardedDate, &p.RiskRating,
	)
	if err != nil {
		return nil, notFound(err, "customer", customerID)
	}
	return &p, nil
}

// GetHistory returns the customer's transactions in ascending timestamp order
func (s *Store) GetHistory(ctx context.Context, customerID string) ([]domain.Transaction, error) {
	const query = `
		SELECT id, type, amount::text, "timestamp", ip, description,
			device_fingerprint, device, location
		FROM transactions WHERE customer_id = $1
		ORDER BY "timestamp", id
	`
	rows, err := s.pool.Query(ctx, query, customerID)
	if err != nil {
		return nil, mapError(err, "query transactions")
	}
	defer rows.Close()

	history := []domain.Transaction{}
	for rows.Next() {
		var (
			t      domain.Transaction
			amount string
		)
		if err := rows.Scan(
			&t.ID, &t.Type, &amount, &t.Timestamp, &t.IP, &t.Description,
			&t.DeviceFingerprint, &t.Device, &t.Location,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid amount on transaction %s: %w", t.ID, err)
		}
		t.Timestamp = t.Timestamp.UTC()
		history = append(history, t)
	}
	return history, rows.Err()
}

// UpsertCustomer loads a KYC profile and its transactions, replacing any
// transaction with the same id
func (s *Store) UpsertCustomer(ctx context.Context, p domain.CustomerProfile, history []domain.Transaction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const profileQuery = `
		INSERT INTO customers (
			customer_id, name, account_number, email, phone, address,
			occupation, onboarded_date, risk_rating
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (customer_id) DO UPDATE SET
			name = EXCLUDED.name, account_number = EXCLUDED.account_number,
			email = EXCLUDED.email, phone = EXCLUDED.phone, address = EXCLUDED.address,
			occupation = EXCLUDED.occupation, onboarded_date = EXCLUDED.onboarded_date,
			risk_rating = EXCLUDED.risk_rating
	`
	_, err = tx.Exec(ctx, profileQuery,
		p.CustomerID, p.Name, p.AccountNumber, p.Email, p.Phone, p.Address,
		p.Occupation, p.OnboardedDate, p.RiskRating,
	)
	if err != nil {
		return mapError(err, "upsert customer")
	}

	const txnQuery = `
		INSERT INTO transactions (
			id, customer_id, type, amount, "timestamp", ip, description,
			device_fingerprint, device, location
		) VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type, amount = EXCLUDED.amount, "timestamp" = EXCLUDED."timestamp",
			ip = EXCLUDED.ip, description = EXCLUDED.description,
			device_fingerprint = EXCLUDED.device_fingerprint, device = EXCLUDED.device,
			location = EXCLUDED.location
	`
	for _, t := range history {
		_, err := tx.Exec(ctx, txnQuery,
			t.ID, p.CustomerID, t.Type, t.Amount.String(), t.Timestamp, t.IP, t.Description,
			t.DeviceFingerprint, t.Device, t.Location,
		)
		if err != nil {
			return mapError(err, "upsert transaction")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err, "commit customer")
	}
	return nil
}
