package engine

import (
	"errors"
	"testing"

	"gigline/internal/db"
	"gigline/internal/migrate"
)

func TestIsConstraintErr(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	const insert = `INSERT INTO users (email,password_hash,role,created_at) VALUES ('a@example.com','x','buyer','2026-01-01T00:00:00Z')`
	if _, err := conn.Exec(insert); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err = conn.Exec(insert)
	if err == nil {
		t.Fatal("duplicate email accepted")
	}
	if !isConstraintErr(err) {
		t.Fatalf("unique violation not recognized: %v", err)
	}

	// other failures must pass through, not masquerade as conflicts
	_, err = conn.Exec(`INSERT INTO nonexistent (x) VALUES (1)`)
	if isConstraintErr(err) {
		t.Fatalf("non-constraint error matched: %v", err)
	}
	if isConstraintErr(nil) || isConstraintErr(errors.New("disk I/O error")) {
		t.Fatal("plain errors matched")
	}
}
