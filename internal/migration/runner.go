package migration

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/Ayash-Bera/intake/internal/database"
	"github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

type Runner struct {
	dbManager *database.Manager
	files     fs.FS
	logger    *logrus.Logger
}

func NewRunner(dbManager *database.Manager, logger *logrus.Logger) *Runner {
	return &Runner{
		dbManager: dbManager,
		files:     sqlFiles,
		logger:    logger,
	}
}

// RunMigrations applies the gorm schema and then the embedded SQL files
// (partial indexes and checks gorm tags cannot express) in name order.
func (r *Runner) RunMigrations() error {
	r.logger.Info("Starting database migrations")

	if err := r.dbManager.AutoMigrate(); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	names, err := Files(r.files)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := r.runSQLFile(name); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", name, err)
		}
		r.logger.WithField("file", name).Info("Migration executed")
	}

	r.logger.Info("Database migrations completed")
	return nil
}

// Files lists the .sql files under sql/ in execution order.
func Files(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *Runner) runSQLFile(name string) error {
	content, err := fs.ReadFile(r.files, path.Join("sql", name))
	if err != nil {
		return err
	}

	for i, stmt := range Statements(string(content)) {
		r.logger.WithFields(logrus.Fields{
			"file":      name,
			"statement": i + 1,
		}).Debug("Executing SQL statement")

		if err := r.dbManager.DB.Exec(stmt).Error; err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	return nil
}

// Statements strips line comments and splits on semicolons. A file with a
// dollar-quoted block is returned whole.
func Statements(sql string) []string {
	cleaned := RemoveComments(sql)
	if strings.Contains(cleaned, "$$") {
		if s := strings.TrimSpace(cleaned); s != "" {
			return []string{s}
		}
		return nil
	}

	var out []string
	for _, stmt := range strings.Split(cleaned, ";") {
		stmt = strings.Join(strings.Fields(stmt), " ")
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func RemoveComments(sql string) string {
	lines := strings.Split(sql, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
