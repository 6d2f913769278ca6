package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// lockKey identifies the advisory lock taken by every runner transaction.
const lockKey int64 = 0x6d6564636f6e73

const (
	createVersions = `create table if not exists schema_versions (
	version    integer primary key,
	name       text not null,
	applied_at timestamptz not null default now()
)`
	createSeeds = `create table if not exists schema_seeds (
	file       text primary key,
	applied_at timestamptz not null default now()
)`
)

// Runner applies a loaded schema to one database.
type Runner struct {
	db   *sql.DB
	plan []Migration
	now  func() time.Time
}

// New loads the schema from fsys. An empty schema is an error.
func New(db *sql.DB, schema fs.FS) (*Runner, error) {
	plan, err := Load(schema)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return nil, errors.New("migrate: schema has no migrations")
	}
	return &Runner{db: db, plan: plan, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Plan returns the loaded migrations in version order.
func (r *Runner) Plan() []Migration { return append([]Migration(nil), r.plan...) }

// State is a migration with the time it was applied, nil while pending.
type State struct {
	Migration
	AppliedAt *time.Time
}

func (s State) Pending() bool { return s.AppliedAt == nil }

func (r *Runner) prepare(ctx context.Context) error {
	for _, stmt := range []string{createVersions, createSeeds} {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("prepare bookkeeping: %w", err)
		}
	}
	return nil
}

// locked runs fn in a transaction holding the advisory lock. Runners started
// together, such as several API replicas, take turns per migration.
func (r *Runner) locked(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, lockKey); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Up applies every pending migration in version order, one transaction per
// migration, and returns the ones it applied.
func (r *Runner) Up(ctx context.Context) ([]Migration, error) {
	if err := r.prepare(ctx); err != nil {
		return nil, err
	}
	var applied []Migration
	for _, m := range r.plan {
		ran, err := r.apply(ctx, m)
		if err != nil {
			return applied, fmt.Errorf("apply %s: %w", m, err)
		}
		if ran {
			applied = append(applied, m)
		}
	}
	return applied, nil
}

func (r *Runner) apply(ctx context.Context, m Migration) (bool, error) {
	ran := false
	err := r.locked(ctx, func(tx *sql.Tx) error {
		var done bool
		if err := tx.QueryRowContext(ctx, `select exists(select 1 from schema_versions where version = $1)`, m.Version).Scan(&done); err != nil {
			return err
		}
		if done {
			return nil
		}
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `insert into schema_versions(version, name, applied_at) values ($1, $2, $3)`, m.Version, m.Name, r.now()); err != nil {
			return err
		}
		ran = true
		return nil
	})
	return ran, err
}

// Down reverts up to steps of the most recently applied migrations, newest
// first. It stops early when nothing is left to revert.
func (r *Runner) Down(ctx context.Context, steps int) ([]Migration, error) {
	if steps < 1 {
		steps = 1
	}
	if err := r.prepare(ctx); err != nil {
		return nil, err
	}
	var reverted []Migration
	for i := 0; i < steps; i++ {
		m, ok, err := r.revertLatest(ctx)
		if err != nil {
			return reverted, err
		}
		if !ok {
			break
		}
		reverted = append(reverted, m)
	}
	return reverted, nil
}

func (r *Runner) revertLatest(ctx context.Context) (Migration, bool, error) {
	var (
		reverted Migration
		ok       bool
	)
	err := r.locked(ctx, func(tx *sql.Tx) error {
		var version int
		err := tx.QueryRowContext(ctx, `select version from schema_versions order by version desc limit 1`).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		m, known := r.find(version)
		if !known {
			return fmt.Errorf("applied version %d is not in the schema", version)
		}
		if !m.Reversible() {
			return fmt.Errorf("revert %s: %w", m, ErrIrreversible)
		}
		if _, err := tx.ExecContext(ctx, m.Down); err != nil {
			return fmt.Errorf("revert %s: %w", m, err)
		}
		if _, err := tx.ExecContext(ctx, `delete from schema_versions where version = $1`, version); err != nil {
			return err
		}
		reverted, ok = m, true
		return nil
	})
	return reverted, ok, err
}

func (r *Runner) find(version int) (Migration, bool) {
	for _, m := range r.plan {
		if m.Version == version {
			return m, true
		}
	}
	return Migration{}, false
}

// Status reports every migration of the schema with its applied time.
func (r *Runner) Status(ctx context.Context) ([]State, error) {
	if err := r.prepare(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `select version, applied_at from schema_versions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	applied := make(map[int]time.Time)
	for rows.Next() {
		var (
			version int
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		applied[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]State, 0, len(r.plan))
	for _, m := range r.plan {
		st := State{Migration: m}
		if at, ok := applied[m.Version]; ok {
			at := at.UTC()
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}

// Seed runs the .sql files at the root of fsys that have not run before, in
// name order, and returns the names it ran. Seeds are never reverted.
func (r *Runner) Seed(ctx context.Context, fsys fs.FS) ([]string, error) {
	if err := r.prepare(ctx); err != nil {
		return nil, err
	}
	files, err := seedFiles(fsys)
	if err != nil {
		return nil, err
	}
	var ran []string
	for _, name := range files {
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return ran, err
		}
		fresh := false
		err = r.locked(ctx, func(tx *sql.Tx) error {
			var done bool
			if err := tx.QueryRowContext(ctx, `select exists(select 1 from schema_seeds where file = $1)`, name).Scan(&done); err != nil {
				return err
			}
			if done {
				return nil
			}
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `insert into schema_seeds(file, applied_at) values ($1, $2)`, name, r.now()); err != nil {
				return err
			}
			fresh = true
			return nil
		})
		if err != nil {
			return ran, fmt.Errorf("seed %s: %w", name, err)
		}
		if fresh {
			ran = append(ran, name)
		}
	}
	return ran, nil
}
