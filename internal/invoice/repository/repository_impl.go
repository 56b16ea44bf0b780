package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/bizcore/internal/invoice/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct{}

func NewRepository() invoicedomain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Omit("Items").
		Create(invoice)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	if len(invoice.Items) == 0 {
		return true, nil
	}
	if err := db.WithContext(ctx).Create(&invoice.Items).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Where("account_id = ? AND id = ?", accountID, id).
		Limit(1).
		Find(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repository) List(ctx context.Context, db *gorm.DB, accountID snowflake.ID, filter invoicedomain.ListRequest) ([]invoicedomain.Invoice, error) {
	stmt := db.WithContext(ctx).Where("account_id = ?", accountID)
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	if filter.Source != nil {
		stmt = stmt.Where("source = ?", *filter.Source)
	}
	if filter.TemplateID != nil {
		stmt = stmt.Where("template_id = ?", *filter.TemplateID)
	}

	var invoices []invoicedomain.Invoice
	if err := stmt.Order("created_at DESC, id DESC").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) TransitionStatus(
	ctx context.Context,
	db *gorm.DB,
	accountID, id snowflake.ID,
	from []invoicedomain.InvoiceStatus,
	to invoicedomain.InvoiceStatus,
	fields map[string]any,
) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("account_id = ? AND id = ? AND status IN ?", accountID, id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) ReplaceItems(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) (bool, error) {
	result := db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("account_id = ? AND id = ? AND status = ?", invoice.AccountID, invoice.ID, invoicedomain.InvoiceStatusDraft).
		Updates(map[string]any{
			"subtotal":       invoice.Subtotal,
			"total_discount": invoice.TotalDiscount,
			"total_tax":      invoice.TotalTax,
			"cgst":           invoice.CGST,
			"sgst":           invoice.SGST,
			"igst":           invoice.IGST,
			"grand_total":    invoice.GrandTotal,
			"updated_at":     invoice.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected != 1 {
		return false, nil
	}

	if err := db.WithContext(ctx).
		Where("account_id = ? AND invoice_id = ?", invoice.AccountID, invoice.ID).
		Delete(&invoicedomain.InvoiceItem{}).Error; err != nil {
		return false, err
	}
	if len(invoice.Items) > 0 {
		if err := db.WithContext(ctx).Create(&invoice.Items).Error; err != nil {
			return false, err
		}
	}
	return true, nil
}
