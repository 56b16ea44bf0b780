// Package domain contains usage counter models and store contracts.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageCounter counts consumption of one resource by one account within a
// billing period. A new period start is a new row, which resets usage.
type UsageCounter struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	AccountID   snowflake.ID `gorm:"not null;uniqueIndex:ux_usage_counter_key,priority:1"`
	Resource    string       `gorm:"type:text;not null;uniqueIndex:ux_usage_counter_key,priority:2"`
	PeriodStart time.Time    `gorm:"not null;uniqueIndex:ux_usage_counter_key,priority:3"`
	Value       int64        `gorm:"not null;default:0;check:chk_usage_counter_value,value >= 0"`
	Version     int64        `gorm:"not null;default:0"`
	CreatedAt   time.Time    `gorm:"not null"`
	UpdatedAt   time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (UsageCounter) TableName() string { return "usage_counters" }

type CounterKey struct {
	AccountID   snowflake.ID
	Resource    string
	PeriodStart time.Time
}

// Normalize lowercases the resource and truncates the period start to whole
// seconds in UTC so every backend addresses the same counter.
func (k CounterKey) Normalize() (CounterKey, error) {
	k.Resource = strings.ToLower(strings.TrimSpace(k.Resource))
	if k.AccountID == 0 || k.Resource == "" || k.PeriodStart.IsZero() {
		return CounterKey{}, ErrInvalidCounterKey
	}
	k.PeriodStart = k.PeriodStart.UTC().Truncate(time.Second)
	return k, nil
}
