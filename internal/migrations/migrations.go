package migrations

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const (
	versionTable       = "planlens_schema_migrations"
	lockKey      int64 = 0x706c616e6c656e73
)

var fileNamePattern = regexp.MustCompile(`^([0-9]+)_[a-z0-9_]+\.(up|down)\.sql$`)

var ErrMissingScript = errors.New("migration script missing")

type Runner struct {
	fsys   fs.FS
	logger *slog.Logger
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRunner(opts ...Option) *Runner {
	return NewRunnerFS(embeddedFS, opts...)
}

func NewRunnerFS(fsys fs.FS, opts ...Option) *Runner {
	r := &Runner{fsys: fsys, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type Status struct {
	Applied []int64
	Pending []int64
}

type script struct {
	version int64
	up      string
	down    string
}

type step struct {
	version int64
	body    string
	record  string
	verb    string
}

// Up applies pending migrations in version order. steps <= 0 applies all.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	scripts, err := readScripts(r.fsys)
	if err != nil {
		return 0, err
	}
	return r.withLock(ctx, db, func(conn *sql.Conn) (int, error) {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return 0, err
		}
		var plan []step
		for _, s := range scripts {
			if slices.Contains(applied, s.version) {
				continue
			}
			plan = append(plan, step{
				version: s.version,
				body:    s.up,
				record:  `INSERT INTO ` + versionTable + ` (version) VALUES ($1)`,
				verb:    "apply",
			})
		}
		return r.run(ctx, conn, limitSteps(plan, steps))
	})
}

// Down rolls back the newest applied migrations. steps <= 0 rolls back one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	scripts, err := readScripts(r.fsys)
	if err != nil {
		return 0, err
	}
	byVersion := make(map[int64]script, len(scripts))
	for _, s := range scripts {
		byVersion[s.version] = s
	}
	return r.withLock(ctx, db, func(conn *sql.Conn) (int, error) {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return 0, err
		}
		var plan []step
		for _, version := range slices.Backward(applied) {
			s, ok := byVersion[version]
			if !ok {
				return 0, fmt.Errorf("applied migration %d: %w", version, ErrMissingScript)
			}
			plan = append(plan, step{
				version: version,
				body:    s.down,
				record:  `DELETE FROM ` + versionTable + ` WHERE version = $1`,
				verb:    "roll back",
			})
		}
		return r.run(ctx, conn, limitSteps(plan, steps))
	})
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) (Status, error) {
	scripts, err := readScripts(r.fsys)
	if err != nil {
		return Status{}, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := ensureVersionTable(ctx, conn); err != nil {
		return Status{}, err
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return Status{}, err
	}
	status := Status{Applied: applied}
	for _, s := range scripts {
		if !slices.Contains(applied, s.version) {
			status.Pending = append(status.Pending, s.version)
		}
	}
	return status, nil
}

func (r *Runner) withLock(ctx context.Context, db *sql.DB, fn func(*sql.Conn) (int, error)) (int, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return 0, fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockKey); err != nil {
			r.logger.Warn("release migration lock failed", slog.Any("error", err))
		}
	}()

	if err := ensureVersionTable(ctx, conn); err != nil {
		return 0, err
	}
	return fn(conn)
}

func (r *Runner) run(ctx context.Context, conn *sql.Conn, plan []step) (int, error) {
	for i, s := range plan {
		if err := runStep(ctx, conn, s); err != nil {
			return i, err
		}
		r.logger.Info("migration step done", slog.String("action", s.verb), slog.Int64("version", s.version))
	}
	return len(plan), nil
}

func runStep(ctx context.Context, conn *sql.Conn, s step) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.body); err != nil {
		return fmt.Errorf("%s migration %d: %w", s.verb, s.version, err)
	}
	if _, err := tx.ExecContext(ctx, s.record, s.version); err != nil {
		return fmt.Errorf("record migration %d: %w", s.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", s.version, err)
	}
	return nil
}

func limitSteps(plan []step, steps int) []step {
	if steps > 0 && len(plan) > steps {
		return plan[:steps]
	}
	return plan
}

func ensureVersionTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+versionTable+` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("ensure version table: %w", err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) ([]int64, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM `+versionTable+` ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func readScripts(fsys fs.FS) ([]script, error) {
	names, err := fs.Glob(fsys, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := map[int64]*script{}
	for _, name := range names {
		m := fileNamePattern.FindStringSubmatch(path.Base(name))
		if m == nil {
			continue
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version of %q: %w", name, err)
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", name, err)
		}
		s, ok := byVersion[version]
		if !ok {
			s = &script{version: version}
			byVersion[version] = s
		}
		if m[2] == "up" {
			s.up = string(body)
		} else {
			s.down = string(body)
		}
	}

	scripts := make([]script, 0, len(byVersion))
	for _, s := range byVersion {
		if strings.TrimSpace(s.up) == "" || strings.TrimSpace(s.down) == "" {
			return nil, fmt.Errorf("version %d: %w", s.version, ErrMissingScript)
		}
		scripts = append(scripts, *s)
	}
	slices.SortFunc(scripts, func(a, b script) int { return cmp.Compare(a.version, b.version) })
	return scripts, nil
}
