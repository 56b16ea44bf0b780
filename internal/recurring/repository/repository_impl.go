package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	recurringdomain "github.com/smallbiznis/bizcore/internal/recurring/domain"
	"gorm.io/gorm"
)

type repository struct{}

func NewRepository() recurringdomain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, template *recurringdomain.Template) error {
	return db.WithContext(ctx).Create(template).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID) (*recurringdomain.Template, error) {
	var template recurringdomain.Template
	err := db.WithContext(ctx).
		Where("account_id = ? AND id = ?", accountID, id).
		Limit(1).
		Find(&template).Error
	if err != nil {
		return nil, err
	}
	if template.ID == 0 {
		return nil, nil
	}
	return &template, nil
}

func (r *repository) List(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]recurringdomain.Template, error) {
	var templates []recurringdomain.Template
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Find(&templates).Error
	return templates, err
}

func (r *repository) ListDue(ctx context.Context, db *gorm.DB, now time.Time, after *recurringdomain.DueCursor, limit int) ([]recurringdomain.Template, error) {
	var templates []recurringdomain.Template
	stmt := db.WithContext(ctx).
		Where("status = ? AND next_invoice_date <= ?", recurringdomain.TemplateStatusActive, now.UTC())
	if after != nil {
		cursorDate := after.NextInvoiceDate.UTC()
		stmt = stmt.Where("(next_invoice_date > ? OR (next_invoice_date = ? AND id > ?))", cursorDate, cursorDate, after.ID)
	}
	stmt = stmt.Order("next_invoice_date ASC, id ASC")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	err := stmt.Find(&templates).Error
	return templates, err
}

func (r *repository) Claim(ctx context.Context, db *gorm.DB, claim recurringdomain.Claim) (bool, error) {
	result := db.WithContext(ctx).
		Model(&recurringdomain.Template{}).
		Where("id = ? AND account_id = ?", claim.TemplateID, claim.AccountID).
		Where("status = ? AND next_invoice_date = ? AND version = ?",
			recurringdomain.TemplateStatusActive, claim.ExpectedNext.UTC(), claim.ExpectedVersion).
		Updates(map[string]any{
			"next_invoice_date": claim.Next.UTC(),
			"total_generated":   gorm.Expr("total_generated + 1"),
			"last_generated_at": claim.GeneratedAt,
			"status":            claim.Status,
			"last_error":        nil,
			"failure_count":     0,
			"version":           claim.ExpectedVersion + 1,
			"updated_at":        claim.GeneratedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) UpdateVersioned(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID, expectedVersion int64, fields map[string]any) (bool, error) {
	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["version"] = expectedVersion + 1

	result := db.WithContext(ctx).
		Model(&recurringdomain.Template{}).
		Where("id = ? AND account_id = ? AND version = ?", id, accountID, expectedVersion).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) RecordFailure(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID, reason string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&recurringdomain.Template{}).
		Where("id = ? AND account_id = ?", id, accountID).
		Updates(map[string]any{
			"last_error":      reason,
			"last_attempt_at": at,
			"failure_count":   gorm.Expr("failure_count + 1"),
		}).Error
}
