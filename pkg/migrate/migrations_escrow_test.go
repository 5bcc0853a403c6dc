package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tradelane/backend/pkg/migrate"
)

func TestEscrowMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_escrow.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no escrow migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE escrow_records",
		"CONSTRAINT ck_escrow_records_fee_split CHECK (platform_fee_cents + net_release_cents = gross_cents OR status = 'pending')",
		"CREATE UNIQUE INDEX ux_escrow_records_trade_id ON escrow_records (trade_id)",
		"CREATE UNIQUE INDEX ux_escrow_records_release_ref ON escrow_records (release_ref) WHERE release_ref IS NOT NULL",
		"CREATE UNIQUE INDEX ux_escrow_events_reference ON escrow_events (reference) WHERE reference IS NOT NULL",
		"DROP TABLE IF EXISTS escrow_records",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("migrations directory invalid: %v", err)
	}
}
