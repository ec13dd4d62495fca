// Package preferences persists per-database preferences in a local SQLite
// file next to the vaults. Each preference group is stored as its own JSON
// row so a newer client can add groups without breaking older rows.
package preferences

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/dbx"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/dmitrijs2005/vaultcore/internal/preferences/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const (
	sectionAudit            = "audit"
	sectionSort             = "sort"
	sectionAuditExclusions  = "audit_exclusions"
	sectionFavourites       = "favourites"
	sectionConflictStrategy = "conflict_strategy"
	sectionExpiryWindow     = "nearly_expired_window"
)

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate preferences: %w", err)
	}
	return nil
}

// Open opens the SQLite file at dsn and applies pending migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load returns the stored preferences of databaseID. Groups that were never
// saved keep their defaults; common.ErrorNotFound is returned when nothing
// was saved at all.
func (s *SQLiteStore) Load(ctx context.Context, databaseID string) (models.Preferences, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT section, value FROM preferences WHERE database_id = ?`, databaseID)
	if err != nil {
		return models.Preferences{}, fmt.Errorf("failed to load preferences[%s]: %w", databaseID, err)
	}
	defer rows.Close()

	p := models.DefaultPreferences()
	found := 0
	for rows.Next() {
		var (
			section string
			value   []byte
		)
		if err := rows.Scan(&section, &value); err != nil {
			return models.Preferences{}, fmt.Errorf("failed to scan preferences row: %w", err)
		}
		target := sectionTarget(&p, section)
		if target == nil {
			continue
		}
		if err := json.Unmarshal(value, target); err != nil {
			return models.Preferences{}, fmt.Errorf("preferences[%s].%s: %w", databaseID, section, err)
		}
		found++
	}
	if err := rows.Err(); err != nil {
		return models.Preferences{}, fmt.Errorf("failed to iterate preferences rows: %w", err)
	}
	if found == 0 {
		return models.Preferences{}, fmt.Errorf("preferences[%s]: %w", databaseID, common.ErrorNotFound)
	}
	return p, nil
}

// Save writes every group of p in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, databaseID string, p models.Preferences) error {
	sections := map[string]any{
		sectionAudit:            p.Audit,
		sectionSort:             p.Sort,
		sectionAuditExclusions:  p.AuditExclusions,
		sectionFavourites:       p.Favourites,
		sectionConflictStrategy: p.ConflictStrategy,
		sectionExpiryWindow:     p.NearlyExpiredWindow,
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for section, v := range sections {
			value, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("preferences[%s].%s: %w", databaseID, section, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO preferences (database_id, section, value) VALUES (?, ?, ?)
				ON CONFLICT(database_id, section) DO UPDATE SET value = excluded.value
			`, databaseID, section, value)
			if err != nil {
				return fmt.Errorf("failed to save preferences[%s].%s: %w", databaseID, section, err)
			}
		}
		return nil
	})
}

// Delete forgets every preference of databaseID.
func (s *SQLiteStore) Delete(ctx context.Context, databaseID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE database_id = ?`, databaseID)
	if err != nil {
		return fmt.Errorf("failed to delete preferences[%s]: %w", databaseID, err)
	}
	return nil
}

func sectionTarget(p *models.Preferences, section string) any {
	switch section {
	case sectionAudit:
		return &p.Audit
	case sectionSort:
		return &p.Sort
	case sectionAuditExclusions:
		return &p.AuditExclusions
	case sectionFavourites:
		return &p.Favourites
	case sectionConflictStrategy:
		return &p.ConflictStrategy
	case sectionExpiryWindow:
		return &p.NearlyExpiredWindow
	default:
		return nil
	}
}
