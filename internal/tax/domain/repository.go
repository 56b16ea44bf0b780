package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Create(ctx context.Context, def *TaxDefinition) error
	FindByID(ctx context.Context, accountID, id snowflake.ID) (*TaxDefinition, error)
	FindByCode(ctx context.Context, accountID snowflake.ID, code string) (*TaxDefinition, error)
	List(ctx context.Context, accountID snowflake.ID, filter ListRequest) ([]TaxDefinition, error)
	Update(ctx context.Context, def *TaxDefinition) error
}
