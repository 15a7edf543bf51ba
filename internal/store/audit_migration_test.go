package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAuditImmutabilityMigrationUsesBlockingTriggers(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0006_audit_immutability.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	expectedSnippets := []string{
		"governance_audit_immutable_guard",
		"RAISE EXCEPTION",
		"CREATE TRIGGER trg_audit_events_block_update",
		"CREATE TRIGGER trg_audit_events_block_delete",
		"CREATE TRIGGER trg_phase_history_block_update",
		"CREATE TRIGGER trg_phase_history_block_delete",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
	if strings.Contains(sqlText, "DO INSTEAD NOTHING") {
		t.Fatalf("expected hard-fail immutability guard, found silent DO INSTEAD NOTHING rule")
	}
}

func TestSearchMigrationAddsGeneratedColumnsAndIndexes(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0005_search.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	for _, snippet := range []string{
		"tsvector",
		"GENERATED ALWAYS",
		"idx_scopes_fts",
		"idx_deliverables_fts",
		"idx_ccs_incidents_fts",
		"idx_audit_events_fts",
		"USING GIN",
	} {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}
