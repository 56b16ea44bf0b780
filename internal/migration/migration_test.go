package migration

import (
	"io/fs"
	"strings"
	"testing"

	invoicedomain "github.com/smallbiznis/bizcore/internal/invoice/domain"
	recurringdomain "github.com/smallbiznis/bizcore/internal/recurring/domain"
	"github.com/smallbiznis/bizcore/internal/testutil"
	usagedomain "github.com/smallbiznis/bizcore/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestInitMigrationCoversEveryModelTable(t *testing.T) {
	body, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_init.up.sql")
	require.NoError(t, err)

	conn := testutil.NewDB(t)
	for _, model := range Models() {
		stmt := conn.Model(model).Statement
		require.NoError(t, stmt.Parse(model))
		table := stmt.Schema.Table
		assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
}

func TestUpMigrationsCoverRecurringTemplateColumns(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	var sql strings.Builder
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		body, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/"+entry.Name())
		require.NoError(t, err)
		sql.Write(body)
	}

	conn := testutil.NewDB(t)
	stmt := conn.Model(&recurringdomain.Template{}).Statement
	require.NoError(t, stmt.Parse(&recurringdomain.Template{}))
	for _, field := range stmt.Schema.Fields {
		if field.DBName == "" {
			continue
		}
		assert.Contains(t, sql.String(), field.DBName, field.Name)
	}
}

func TestAutoMigrateCreatesTables(t *testing.T) {
	conn := testutil.NewDB(t)
	require.NoError(t, AutoMigrate(conn))
	// Running again is a no-op.
	require.NoError(t, AutoMigrate(conn))

	for _, table := range []string{
		"subscriptions",
		"subscription_history",
		"usage_counters",
		"tax_definitions",
		"invoices",
		"invoice_items",
		"recurring_invoice_templates",
		"billing_events",
		"processed_payments",
	} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
	assert.True(t, conn.Migrator().HasIndex(&invoicedomain.Invoice{}, "ux_invoice_template_cycle"))
	assert.True(t, conn.Migrator().HasIndex(&usagedomain.UsageCounter{}, "ux_usage_counter_key"))
	assert.True(t, conn.Migrator().HasIndex(&recurringdomain.Template{}, "idx_recurring_due"))
	assert.True(t, conn.Migrator().HasColumn(&recurringdomain.Template{}, "failure_count"))
}

func TestAutoMigrateRequiresHandle(t *testing.T) {
	assert.Error(t, AutoMigrate(nil))
	assert.Error(t, RunMigrations(nil))
}
