// Package migrations embeds the SQL schema and applies it in filename order.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

//go:embed sql/*.sql
var files embed.FS

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Up, Down:
		return Direction(s), nil
	default:
		return "", fmt.Errorf("direction must be 'up' or 'down', got %q", s)
	}
}

// Files returns the migration file names for dir, in the order they must run.
func Files(dir Direction) ([]string, error) {
	entries, err := fs.ReadDir(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), fmt.Sprintf(".%s.sql", dir)) {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)
	if dir == Down {
		for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
			names[i], names[j] = names[j], names[i]
		}
	}

	return names, nil
}

func Apply(ctx context.Context, db *sql.DB, dir Direction) (int, error) {
	names, err := Files(dir)
	if err != nil {
		return 0, err
	}

	for _, name := range names {
		content, err := files.ReadFile("sql/" + name)
		if err != nil {
			return 0, fmt.Errorf("read migration file %s: %w", name, err)
		}

		slog.InfoContext(ctx, "running migration", slog.String("file", name))
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return 0, fmt.Errorf("execute migration %s: %w", name, err)
		}
	}

	return len(names), nil
}
