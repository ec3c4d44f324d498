package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const migrationsTestPrefix = "db:migrations_test"

func writeMigrationDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("%s - write %s: %v", migrationsTestPrefix, name, err)
		}
	}
	return dir
}

func TestLoadMigrationFiles_Directory(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  []string
	}{
		{
			name: "sorted by file name",
			files: map[string]string{
				"0003_state_index.sql":  "THIRD",
				"0001_guest_status.sql": "FIRST",
				"0002_address.sql":      "SECOND",
			},
			want: []string{"FIRST", "SECOND", "THIRD"},
		},
		{
			name: "only sql files",
			files: map[string]string{
				"0001_guest_status.sql": "CREATE",
				"README.md":             "# status schema",
				"seed.json":             "{}",
			},
			want: []string{"CREATE"},
		},
		{
			name:  "empty directory",
			files: map[string]string{},
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadMigrationFiles(writeMigrationDir(t, tt.files))
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("%s - got %d migrations, want %d", migrationsTestPrefix, len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("%s - migration %d = %q, want %q", migrationsTestPrefix, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadMigrationFiles_SkipsDirectoryNamedSQL(t *testing.T) {
	dir := writeMigrationDir(t, map[string]string{"0001_guest_status.sql": "CREATE"})
	if err := os.Mkdir(filepath.Join(dir, "archive.sql"), 0o755); err != nil {
		t.Fatalf("%s - mkdir: %v", migrationsTestPrefix, err)
	}
	got, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if len(got) != 1 {
		t.Errorf("%s - got %d migrations, want 1", migrationsTestPrefix, len(got))
	}
}

func TestLoadMigrationFiles_MissingDirectory(t *testing.T) {
	if _, err := LoadMigrationFiles(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Errorf("%s - expected error for missing directory", migrationsTestPrefix)
	}
}

func TestLoadMigrationFiles_Embedded(t *testing.T) {
	got, err := LoadMigrationFiles("")
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if len(got) < 2 {
		t.Fatalf("%s - expected the built-in migrations, got %d", migrationsTestPrefix, len(got))
	}
	if !strings.Contains(got[0], "CREATE TABLE IF NOT EXISTS guest_status") {
		t.Errorf("%s - first built-in migration should create guest_status", migrationsTestPrefix)
	}
	for i, sql := range got {
		if !strings.Contains(sql, "IF NOT EXISTS") {
			t.Errorf("%s - migration %d is not idempotent", migrationsTestPrefix, i)
		}
	}
}
