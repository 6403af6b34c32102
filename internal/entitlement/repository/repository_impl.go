package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/predixa/entitlements/internal/entitlement/domain"
	"github.com/predixa/entitlements/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	db *gorm.DB
}

// NewGormRepository stores entitlements in the relational database.
func NewGormRepository(conn *gorm.DB) domain.Repository {
	return &repo{db: conn}
}

func (r *repo) Get(ctx context.Context, userID string) (*domain.Entitlement, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	var record domain.Entitlement
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, storeError("get entitlement", err)
	}
	return &record, nil
}

// Apply runs the ordering check and the single write in one transaction,
// locking the row on dialects that support it. A concurrent first insert
// for the same user is retried as an update.
func (r *repo) Apply(ctx context.Context, change domain.Change) (domain.ApplyResult, error) {
	if strings.TrimSpace(change.UserID) == "" {
		return domain.ApplyResult{}, domain.ErrInvalidUserID
	}

	var result domain.ApplyResult
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		result, err = r.applyOnce(ctx, change)
		if err == nil || !db.IsDuplicateKeyErr(err) {
			break
		}
	}
	if err != nil {
		return domain.ApplyResult{}, storeError("apply entitlement change", err)
	}
	return result, nil
}

func (r *repo) applyOnce(ctx context.Context, change domain.Change) (domain.ApplyResult, error) {
	var result domain.ApplyResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.Entitlement
		err := forUpdate(tx).Where("user_id = ?", change.UserID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			record := change.Merge(nil)
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			result = domain.ApplyResult{Outcome: domain.ApplyCreated, Record: record}
			return nil
		case err != nil:
			return err
		}

		if change.IsStaleFor(&existing) {
			result = domain.ApplyResult{Outcome: domain.ApplyStale, Record: existing}
			return nil
		}

		merged := change.Merge(&existing)
		if err := tx.Model(&domain.Entitlement{}).
			Where("user_id = ?", change.UserID).
			Updates(changeColumns(change, merged)).Error; err != nil {
			return err
		}
		result = domain.ApplyResult{Outcome: domain.ApplyUpdated, Record: merged}
		return nil
	})
	return result, err
}

// forUpdate adds a row lock; sqlite serializes writers on its own.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// changeColumns lists only the columns a change touches.
func changeColumns(change domain.Change, merged domain.Entitlement) map[string]any {
	cols := map[string]any{
		"status":         merged.Status,
		"updated_at":     merged.UpdatedAt,
		"last_event_at":  merged.LastEventAt,
		"access_granted": merged.AccessGranted,
		"access_reason":  merged.AccessReason,
		"trial_active":   merged.TrialActive,
	}
	if change.ClearPlan || change.Plan != nil {
		cols["plan"] = merged.Plan
	}
	if change.ClearPeriodEnd || change.CurrentPeriodEnd != nil {
		cols["current_period_end"] = merged.CurrentPeriodEnd
	}
	if change.ClearTrial {
		cols["trial_expires_at"] = nil
		cols["trial_active"] = false
		cols["trial_days_remaining"] = 0
	} else if change.TrialExpiresAt != nil {
		cols["trial_expires_at"] = merged.TrialExpiresAt
	}
	if change.Provider != "" {
		cols["provider"] = merged.Provider
	}
	if change.ProductID != "" {
		cols["product_id"] = merged.ProductID
	}
	if change.Environment != "" {
		cols["environment"] = merged.Environment
	}
	if change.EventID != "" {
		cols["last_event_id"] = merged.LastEventID
	}
	return cols
}

func (r *repo) Repair(ctx context.Context, userID string, repair domain.Repair) error {
	if repair.Empty() {
		return nil
	}
	cols := map[string]any{"updated_at": repair.At}
	if repair.Status != nil {
		cols["status"] = *repair.Status
	}
	if repair.TrialDaysRemaining != nil {
		cols["trial_days_remaining"] = *repair.TrialDaysRemaining
	}
	if repair.TrialActive != nil {
		cols["trial_active"] = *repair.TrialActive
	}
	if repair.AccessGranted != nil {
		cols["access_granted"] = *repair.AccessGranted
	}
	if repair.AccessReason != nil {
		cols["access_reason"] = *repair.AccessReason
	}
	if repair.ClearTrial {
		cols["trial_expires_at"] = nil
		cols["trial_days_remaining"] = 0
		cols["trial_active"] = false
	}

	res := r.db.WithContext(ctx).Model(&domain.Entitlement{}).Where("user_id = ?", userID).Updates(cols)
	if res.Error != nil {
		return storeError("repair entitlement", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) Create(ctx context.Context, record *domain.Entitlement) error {
	if record == nil || strings.TrimSpace(record.UserID) == "" {
		return domain.ErrInvalidUserID
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrAlreadyExists
		}
		return storeError("create entitlement", err)
	}
	return nil
}

func (r *repo) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Entitlement, error) {
	var records []domain.Entitlement
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("user_id ASC").
		Find(&records).Error; err != nil {
		return nil, storeError("list entitlements", err)
	}
	return records, nil
}

func (r *repo) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	var rows []struct {
		Status domain.Status
		Total  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&domain.Entitlement{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, storeError("count entitlements", err)
	}
	out := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}
