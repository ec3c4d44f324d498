package db

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

const migrationsLogPrefix = "db:migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// LoadMigrationFiles reads all .sql files from dir, sorted by name, and returns their contents.
// An empty dir selects the migrations compiled into the binary.
func LoadMigrationFiles(dir string) ([]string, error) {
	if dir == "" {
		sub, err := fs.Sub(embeddedMigrations, "migrations")
		if err != nil {
			return nil, fmt.Errorf("%s - embedded migrations: %w", migrationsLogPrefix, err)
		}
		return loadMigrations(sub, "embedded")
	}
	return loadMigrations(os.DirFS(dir), dir)
}

func loadMigrations(fsys fs.FS, label string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, label, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s/%s: %w", migrationsLogPrefix, label, name, err)
		}
		out = append(out, string(data))
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), label))
	return out, nil
}
