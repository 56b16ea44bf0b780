package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/bizcore/internal/invoice/domain"
	"gorm.io/datatypes"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

type TemplateStatus string

const (
	TemplateStatusActive    TemplateStatus = "active"
	TemplateStatusPaused    TemplateStatus = "paused"
	TemplateStatusCompleted TemplateStatus = "completed"
	TemplateStatusCancelled TemplateStatus = "cancelled"
)

// IsTerminal reports whether the template can no longer generate or change status.
func (s TemplateStatus) IsTerminal() bool {
	return s == TemplateStatusCompleted || s == TemplateStatusCancelled
}

// Template schedules invoices for one customer. Items are a snapshot taken at
// edit time; generation never re-prices them.
type Template struct {
	ID        snowflake.ID           `gorm:"primaryKey;index:idx_recurring_due,priority:3"`
	AccountID snowflake.ID           `gorm:"not null;index"`
	Customer  invoicedomain.Customer `gorm:"embedded;embeddedPrefix:customer_"`
	Currency  string                 `gorm:"type:text"`

	Frequency       Frequency  `gorm:"type:text;not null"`
	Interval        int        `gorm:"not null;default:1;check:chk_recurring_interval,interval >= 1"`
	StartDate       time.Time  `gorm:"not null"`
	EndDate         *time.Time `gorm:""`
	AnchorDay       int        `gorm:"not null"`
	NextInvoiceDate time.Time  `gorm:"not null;index:idx_recurring_due,priority:2"`

	Items     datatypes.JSONSlice[invoicedomain.LineInput] `gorm:"type:jsonb;not null"`
	AutoIssue bool                                         `gorm:"not null;default:false"`

	Status          TemplateStatus `gorm:"type:text;not null;index:idx_recurring_due,priority:1"`
	TotalGenerated  int64          `gorm:"not null;default:0"`
	LastGeneratedAt *time.Time     `gorm:""`

	// Failure bookkeeping, cleared by the next successful claim.
	LastError     *string    `gorm:"type:text"`
	LastAttemptAt *time.Time `gorm:""`
	FailureCount  int        `gorm:"not null;default:0"`

	Version   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Template) TableName() string { return "recurring_invoice_templates" }

// DueCursor is the keyset position of the last template a generation run listed.
type DueCursor struct {
	NextInvoiceDate time.Time
	ID              snowflake.ID
}

// Claim moves a template past one due cycle.
type Claim struct {
	TemplateID      snowflake.ID
	AccountID       snowflake.ID
	ExpectedNext    time.Time
	ExpectedVersion int64
	Next            time.Time
	Status          TemplateStatus
	GeneratedAt     time.Time
}
