package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/banking/sar-governance/internal/crypto"
	"github.com/banking/sar-governance/internal/domain"
	"github.com/banking/sar-governance/internal/repository"
	"go.uber.org/zap"
)

// ProfileInvalidator drops cached copies of a customer profile
type ProfileInvalidator interface {
	Invalidate(ctx context.Context, customerID string) error
}

// CustomerRecord is one customer as delivered by the KYC and core banking
// feeds
type CustomerRecord struct {
	Profile      domain.CustomerProfile `json:"profile"`
	Transactions []domain.Transaction   `json:"transactions"`
}

// CustomerService loads the customer data that cases are opened against
type CustomerService struct {
	loader repository.CustomerLoader
	cache  ProfileInvalidator
	logger *zap.Logger
}

// NewCustomerService creates the loader. cache may be nil.
func NewCustomerService(loader repository.CustomerLoader, cache ProfileInvalidator, logger *zap.Logger) *CustomerService {
	return &CustomerService{loader: loader, cache: cache, logger: logger}
}

// LoadCustomer validates and upserts a customer. Cases already open keep
// their snapshot; only cases opened afterwards see the new data.
func (s *CustomerService) LoadCustomer(ctx context.Context, rec CustomerRecord) error {
	rec.Profile.CustomerID = strings.TrimSpace(rec.Profile.CustomerID)
	if rec.Profile.CustomerID == "" {
		return domain.NewValidationError("customer_id", "customer id is required")
	}
	history := make([]domain.Transaction, 0, len(rec.Transactions))
	for i, t := range rec.Transactions {
		field := fmt.Sprintf("transactions[%d]", i)
		switch {
		case strings.TrimSpace(t.ID) == "":
			return domain.NewValidationError(field+".id", "transaction id is required")
		case !t.Type.Valid():
			return domain.NewValidationError(field+".type", fmt.Sprintf("unknown transaction type %q", t.Type))
		case t.Amount.IsNegative():
			return domain.NewValidationError(field+".amount", "amount must not be negative")
		case t.Timestamp.IsZero():
			return domain.NewValidationError(field+".timestamp", "timestamp is required")
		}
		t.Timestamp = t.Timestamp.UTC().Truncate(time.Microsecond)
		history = append(history, t)
	}

	if err := s.loader.UpsertCustomer(ctx, rec.Profile, history); err != nil {
		return fmt.Errorf("failed to load customer: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, rec.Profile.CustomerID); err != nil {
			// The entry expires on its own TTL
			s.logger.Warn("Failed to invalidate cached profile",
				zap.String("customer_id", rec.Profile.CustomerID),
				zap.Error(err),
			)
		}
	}
	s.logger.Info("Customer loaded",
		zap.String("customer_id", rec.Profile.CustomerID),
		zap.String("customer", crypto.MaskPII(rec.Profile.Name, "name")),
		zap.Int("transactions", len(history)),
	)
	return nil
}

// LoadSeedFile loads a JSON array of customer records and returns how many
// were loaded
func (s *CustomerService) LoadSeedFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}
	var records []CustomerRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	for i, rec := range records {
		if err := s.LoadCustomer(ctx, rec); err != nil {
			return i, fmt.Errorf("seed record %d: %w", i, err)
		}
	}
	return len(records), nil
}
