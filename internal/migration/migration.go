package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	billingeventdomain "github.com/smallbiznis/bizcore/internal/billingevent/domain"
	invoicedomain "github.com/smallbiznis/bizcore/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/bizcore/internal/payment/domain"
	recurringdomain "github.com/smallbiznis/bizcore/internal/recurring/domain"
	subscriptiondomain "github.com/smallbiznis/bizcore/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/bizcore/internal/tax/domain"
	usagedomain "github.com/smallbiznis/bizcore/internal/usage/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table owned by bizcore, in dependency order.
func Models() []any {
	return []any{
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.SubscriptionHistory{},
		&usagedomain.UsageCounter{},
		&taxdomain.TaxDefinition{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&recurringdomain.Template{},
		&billingeventdomain.BillingEvent{},
		&paymentdomain.ProcessedPayment{},
	}
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate builds the schema from the gorm models for dialects the SQL
// migrations do not target.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
