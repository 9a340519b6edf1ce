package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the document backend for real deployments. Each collection
// maps to one table of key columns plus a JSONB body; filter, order and
// uniqueness semantics mirror the memory and file backends exactly.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool to databaseURL and verifies it with a ping.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// EnsureSchema creates the tables and indexes for the given collections.
// Idempotent; safe to run on every startup.
func (s *Postgres) EnsureSchema(ctx context.Context, specs ...Spec) error {
	for _, spec := range specs {
		table := tableName(spec)
		ddl := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	contest_id BIGINT NOT NULL,
	skey TEXT NOT NULL DEFAULT '',
	tkey BIGINT NOT NULL DEFAULT 0,
	ikey BIGINT NOT NULL DEFAULT 0,
	doc JSONB NOT NULL
)`, table),
			fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_key_idx ON %s (%s)`,
				table, table, strings.Join(uniqueColumns(spec), ", ")),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_tkey_idx ON %s (contest_id, tkey DESC, ikey DESC, skey DESC)`,
				table, table),
		}
		for _, stmt := range ddl {
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("store: ensure %s: %w", table, err)
			}
		}
	}
	return nil
}

func (s *Postgres) Find(ctx context.Context, spec Spec, f Filter, opts FindOptions) ([]RawDoc, error) {
	where, args := whereClause(f)
	order := "tkey ASC, ikey ASC, skey ASC"
	if opts.Sort == SortTKeyDesc {
		order = "tkey DESC, ikey DESC, skey DESC"
	}
	query := fmt.Sprintf(`SELECT contest_id, skey, tkey, ikey, doc FROM %s WHERE %s ORDER BY %s`,
		tableName(spec), where, order)
	if opts.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(opts.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: find: %w", spec.Name, err)
	}
	defer rows.Close()

	var out []RawDoc
	for rows.Next() {
		var doc RawDoc
		if err := rows.Scan(&doc.Keys.ContestID, &doc.Keys.SKey, &doc.Keys.TKey, &doc.Keys.IKey, &doc.Data); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", spec.Name, err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: find: %w", spec.Name, err)
	}
	return out, nil
}

func (s *Postgres) Insert(ctx context.Context, spec Spec, doc RawDoc) error {
	query := fmt.Sprintf(`INSERT INTO %s (contest_id, skey, tkey, ikey, doc) VALUES ($1, $2, $3, $4, $5)`,
		tableName(spec))
	_, err := s.pool.Exec(ctx, query, doc.Keys.ContestID, doc.Keys.SKey, doc.Keys.TKey, doc.Keys.IKey, doc.Data)
	if isUniqueViolation(err) {
		return fmt.Errorf("%s %s: %w", spec.Name, uniqueKey(spec, doc.Keys), ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("%s: insert: %w", spec.Name, err)
	}
	return nil
}

func (s *Postgres) Upsert(ctx context.Context, spec Spec, doc RawDoc) (RawDoc, error) {
	query := fmt.Sprintf(
		`INSERT INTO %s (contest_id, skey, tkey, ikey, doc) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (%s) DO UPDATE SET skey = EXCLUDED.skey, tkey = EXCLUDED.tkey, ikey = EXCLUDED.ikey, doc = EXCLUDED.doc`,
		tableName(spec), strings.Join(uniqueColumns(spec), ", "))
	_, err := s.pool.Exec(ctx, query, doc.Keys.ContestID, doc.Keys.SKey, doc.Keys.TKey, doc.Keys.IKey, doc.Data)
	if err != nil {
		return RawDoc{}, fmt.Errorf("%s: upsert: %w", spec.Name, err)
	}
	return doc, nil
}

// BulkWrite executes ops as individual statements so the applied prefix
// survives a mid-batch failure, matching the other backends.
func (s *Postgres) BulkWrite(ctx context.Context, spec Spec, ops []RawOp) (BulkSummary, error) {
	var sum BulkSummary
	for i, op := range ops {
		switch op.Kind {
		case OpInsert:
			if err := s.Insert(ctx, spec, op.Doc); err != nil {
				return sum, fmt.Errorf("op %d: %w", i, err)
			}
			sum.Inserted++
		case OpUpsert:
			if _, err := s.Upsert(ctx, spec, op.Doc); err != nil {
				return sum, fmt.Errorf("op %d: %w", i, err)
			}
			sum.Upserted++
		case OpDelete:
			if err := validateFilter(op.Filter); err != nil {
				return sum, fmt.Errorf("op %d: %w", i, err)
			}
			n, err := s.Delete(ctx, spec, op.Filter)
			if err != nil {
				return sum, fmt.Errorf("op %d: %w", i, err)
			}
			sum.Deleted += int(n)
		default:
			return sum, fmt.Errorf("op %d: unknown kind %d", i, op.Kind)
		}
	}
	return sum, nil
}

func (s *Postgres) Count(ctx context.Context, spec Spec, f Filter) (int64, error) {
	where, args := whereClause(f)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, tableName(spec), where)
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: count: %w", spec.Name, err)
	}
	return n, nil
}

func (s *Postgres) Delete(ctx context.Context, spec Spec, f Filter) (int64, error) {
	where, args := whereClause(f)
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s`, tableName(spec), where)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: delete: %w", spec.Name, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func whereClause(f Filter) (string, []any) {
	conds := []string{"contest_id = $1"}
	args := []any{f.ContestID}
	next := func() string { return "$" + strconv.Itoa(len(args)+1) }
	if f.SKey != "" {
		conds = append(conds, "skey = "+next())
		args = append(args, f.SKey)
	}
	if f.TKeyEq != nil {
		conds = append(conds, "tkey = "+next())
		args = append(args, *f.TKeyEq)
	}
	if f.TKeyMin != nil {
		op := ">="
		if f.TKeyMinEx {
			op = ">"
		}
		conds = append(conds, "tkey "+op+" "+next())
		args = append(args, *f.TKeyMin)
	}
	if f.TKeyMax != nil {
		op := "<="
		if f.TKeyMaxEx {
			op = "<"
		}
		conds = append(conds, "tkey "+op+" "+next())
		args = append(args, *f.TKeyMax)
	}
	return strings.Join(conds, " AND "), args
}

func uniqueColumns(spec Spec) []string {
	switch spec.Key {
	case KeySKey:
		return []string{"contest_id", "skey"}
	case KeyTKey:
		return []string{"contest_id", "tkey"}
	case KeyIKey:
		return []string{"contest_id", "ikey"}
	default:
		return []string{"contest_id"}
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// tableName converts a camelCase collection name to its snake_case table.
func tableName(spec Spec) string {
	var b strings.Builder
	for _, r := range spec.Name {
		if r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
