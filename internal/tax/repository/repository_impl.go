package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	taxdomain "github.com/smallbiznis/bizcore/internal/tax/domain"
	"github.com/smallbiznis/bizcore/pkg/db"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) taxdomain.Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, def *taxdomain.TaxDefinition) error {
	err := r.db.WithContext(ctx).Create(def).Error
	if db.IsDuplicateKeyErr(err) {
		return taxdomain.ErrDuplicateTaxCode
	}
	return err
}

func (r *repository) FindByID(ctx context.Context, accountID, id snowflake.ID) (*taxdomain.TaxDefinition, error) {
	var def taxdomain.TaxDefinition
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND id = ?", accountID, id).
		Limit(1).
		Find(&def).Error
	if err != nil {
		return nil, err
	}
	if def.ID == 0 {
		return nil, nil
	}
	return &def, nil
}

func (r *repository) FindByCode(ctx context.Context, accountID snowflake.ID, code string) (*taxdomain.TaxDefinition, error) {
	var def taxdomain.TaxDefinition
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND code = ?", accountID, code).
		Limit(1).
		Find(&def).Error
	if err != nil {
		return nil, err
	}
	if def.ID == 0 {
		return nil, nil
	}
	return &def, nil
}

func (r *repository) List(ctx context.Context, accountID snowflake.ID, filter taxdomain.ListRequest) ([]taxdomain.TaxDefinition, error) {
	var items []taxdomain.TaxDefinition
	stmt := r.db.WithContext(ctx).
		Model(&taxdomain.TaxDefinition{}).
		Where("account_id = ?", accountID)

	if filter.Code != "" {
		stmt = stmt.Where("code = ?", filter.Code)
	}
	if filter.IsEnabled != nil {
		stmt = stmt.Where("is_enabled = ?", *filter.IsEnabled)
	}

	if err := stmt.Order("code ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) Update(ctx context.Context, def *taxdomain.TaxDefinition) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE tax_definitions
		 SET name = ?, rate_percent = ?, description = ?, is_enabled = ?, updated_at = ?
		 WHERE account_id = ? AND id = ?`,
		def.Name,
		def.RatePercent,
		def.Description,
		def.IsEnabled,
		def.UpdatedAt,
		def.AccountID,
		def.ID,
	).Error
}
