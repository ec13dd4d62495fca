package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/dbx"
	"github.com/dmitrijs2005/vaultcore/internal/storage/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Postgres stores vaults as rows of the vaults table. The revision is the
// row's version column, bumped on every Save.
type Postgres struct {
	db dbx.DBTX
}

func NewPostgres(db dbx.DBTX) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects through the pgx stdlib driver and applies pending
// migrations.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, transport("connect", "postgres", err)
	}
	if err := RunPostgresMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

func RunPostgresMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context, id string) ([]byte, string, error) {
	if id == "" {
		return nil, "", fmt.Errorf("%w: empty vault id", common.ErrValidation)
	}
	var (
		data    []byte
		version int64
	)
	err := p.db.QueryRowContext(ctx, `SELECT data, version FROM vaults WHERE id = $1`, id).Scan(&data, &version)
	if err = dbx.NotFound(err, "vault "+id); errors.Is(err, common.ErrorNotFound) {
		return nil, "", err
	}
	if err != nil {
		return nil, "", transport("load", id, err)
	}
	return data, strconv.FormatInt(version, 10), nil
}

func (p *Postgres) Save(ctx context.Context, id string, data []byte) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty vault id", common.ErrValidation)
	}
	query := `
		INSERT INTO vaults (id, data) VALUES ($1, $2)
		ON CONFLICT (id)
		DO UPDATE SET
			data = EXCLUDED.data,
			version = vaults.version + 1,
			updated_at = now()
		RETURNING version`
	var version int64
	if err := p.db.QueryRowContext(ctx, query, id, data).Scan(&version); err != nil {
		return "", transport("save", id, err)
	}
	return strconv.FormatInt(version, 10), nil
}

func (p *Postgres) Revision(ctx context.Context, id string) (string, error) {
	var version int64
	err := p.db.QueryRowContext(ctx, `SELECT version FROM vaults WHERE id = $1`, id).Scan(&version)
	if err = dbx.NotFound(err, "vault "+id); errors.Is(err, common.ErrorNotFound) {
		return "", err
	}
	if err != nil {
		return "", transport("revision", id, err)
	}
	return strconv.FormatInt(version, 10), nil
}
