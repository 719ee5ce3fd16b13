//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestEngineDB_MigratedSchema(t *testing.T) {
	engineDB := GetEngineDB(t)
	ctx := context.Background()

	for _, table := range []string{
		"engine_projects", "engine_analysis_jobs", "engine_elements", "engine_edits", "engine_pull_requests",
	} {
		var exists bool
		err := engineDB.DB.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)",
			table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("expected table %s to exist", table)
		}
	}
}

func TestCreateTestProject(t *testing.T) {
	engineDB := GetEngineDB(t)
	projectID := CreateTestProject(t, engineDB.DB, "ready")

	var status string
	err := engineDB.DB.QueryRow(context.Background(),
		"SELECT status FROM engine_projects WHERE id = $1", projectID).Scan(&status)
	if err != nil {
		t.Fatalf("failed to read project: %v", err)
	}
	if status != "ready" {
		t.Errorf("expected status ready, got %s", status)
	}
}
