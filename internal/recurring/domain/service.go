package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/bizcore/internal/invoice/domain"
	"gorm.io/gorm"
)

type CreateRequest struct {
	Customer  invoicedomain.CustomerInput `json:"customer"`
	Currency  string                      `json:"currency"`
	Frequency Frequency                   `json:"frequency"`
	Interval  int                         `json:"interval"`
	StartDate time.Time                   `json:"start_date"`
	EndDate   *time.Time                  `json:"end_date,omitempty"`
	Items     []invoicedomain.LineInput   `json:"items"`
	AutoIssue bool                        `json:"auto_issue"`
}

// Service manages templates on behalf of the account in context.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Template, error)
	// UpdateItems replaces the item snapshot only while the stored version matches.
	UpdateItems(ctx context.Context, id string, version int64, items []invoicedomain.LineInput) (*Template, error)
	Pause(ctx context.Context, id string) (*Template, error)
	// Resume fast-forwards the next invoice date to the first cycle on or after today.
	Resume(ctx context.Context, id string) (*Template, error)
	Cancel(ctx context.Context, id string) (*Template, error)
	Get(ctx context.Context, id string) (*Template, error)
	List(ctx context.Context) ([]Template, error)
}

type GenerationResult struct {
	Generated int
	Skipped   int
	Completed int
	// CatchUpLimited counts templates still due after the per-run cycle bound.
	CatchUpLimited int
	// Failed counts templates whose generation returned an error.
	Failed int
}

// Generator materializes due cycles exactly once each. One call drains every
// template due at now, paging through them in batches.
type Generator interface {
	GenerateDueInvoices(ctx context.Context, now time.Time) (int, error)
	Generate(ctx context.Context, now time.Time) (GenerationResult, error)
}

// Repository methods take the handle to run on so callers control transactions.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, template *Template) error
	FindByID(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID) (*Template, error)
	List(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]Template, error)
	// ListDue returns active templates whose next invoice date is at or before
	// now, ordered by (next_invoice_date, id) and strictly after the cursor when
	// one is given.
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, after *DueCursor, limit int) ([]Template, error)
	// Claim advances one cycle only while status, next date and version still match.
	Claim(ctx context.Context, db *gorm.DB, claim Claim) (bool, error)
	UpdateVersioned(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID, expectedVersion int64, fields map[string]any) (bool, error)
	// RecordFailure stores the last generation error without bumping the version.
	RecordFailure(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID, reason string, at time.Time) error
}
