package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/Fileri/showcase/server/internal/config"
	"github.com/Fileri/showcase/server/internal/content"
	"github.com/Fileri/showcase/server/internal/metrics"
)

const pgxDriver = "pgx"

var sqlOpen = sql.Open

// The contents table mixes unquoted (folded to lowercase) and quoted
// camelCase column names.
const selectColumns = `id, title, description, contenttype, image, externalurl, platform, "createdAt", "updatedAt"`

// Postgres implements Store over a direct connection to the Supabase database.
type Postgres struct {
	db     *sql.DB
	schema string
	table  string
	ident  string
	now    func() time.Time
}

// NewPostgres opens the database. The pool connects lazily, so an unreachable
// database surfaces per request and the chain falls through.
func NewPostgres(cfg config.DatabaseConfig) (*Postgres, error) {
	db, err := sqlOpen(pgxDriver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(min(cfg.MaxOpenConns, 5))
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{
		db:     db,
		schema: cfg.Schema,
		table:  cfg.Table,
		ident:  pgx.Identifier{cfg.Schema, cfg.Table}.Sanitize(),
		now:    time.Now,
	}, nil
}

// Name implements Store
func (p *Postgres) Name() string { return "postgres" }

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// UpdateConnectionMetrics publishes the pool's open connection count.
func (p *Postgres) UpdateConnectionMetrics() {
	metrics.SetDBConnectionsOpen(p.db.Stats().OpenConnections)
}

// Close closes the pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// queryRows runs query and returns each row keyed by column name.
func (p *Postgres) queryRows(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// List implements Store
func (p *Postgres) List(ctx context.Context) ([]*content.Content, error) {
	rows, err := p.queryRows(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY "createdAt" DESC`, selectColumns, p.ident))
	if err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}

	items := make([]*content.Content, 0, len(rows))
	for _, r := range rows {
		items = append(items, content.FromRow(r))
	}
	return items, nil
}

// Get implements Store
func (p *Postgres) Get(ctx context.Context, id string) (*content.Content, error) {
	rows, err := p.queryRows(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, p.ident), id)
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}
	if len(rows) == 0 {
		return nil, content.ErrNotFound
	}
	return content.FromRow(rows[0]), nil
}

// Create implements Store
func (p *Postgres) Create(ctx context.Context, c *content.Content) (*content.Content, error) {
	rows, err := p.queryRows(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING *`, p.ident, selectColumns),
		c.ID, c.Title, c.Description, c.ContentType, c.Image, c.ExternalURL, c.Platform, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert content: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert content: no row returned")
	}
	return content.FromRow(rows[0]), nil
}

// Update implements Store. The stored contenttype is never changed here. A
// missing row is final: no other backend is consulted.
func (p *Postgres) Update(ctx context.Context, id string, u content.Update) (*content.Content, error) {
	existing, err := p.queryRows(ctx,
		fmt.Sprintf(`SELECT contenttype FROM %s WHERE id = $1`, p.ident), id)
	if err != nil {
		return nil, fmt.Errorf("read content type: %w", err)
	}
	if len(existing) == 0 {
		return nil, Terminal(content.ErrNotFound)
	}

	query := fmt.Sprintf(`UPDATE %s SET title = COALESCE($1, title), description = COALESCE($2, description), `+
		`contenttype = $3, image = $4, externalurl = $5, platform = $6, "updatedAt" = $7 WHERE id = $8 RETURNING *`, p.ident)
	rows, err := p.queryRows(ctx, query,
		u.Title, u.Description, existing[0]["contenttype"], u.Image, u.ExternalURL, u.Platform, p.now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("update content: %w", err)
	}
	if len(rows) == 0 {
		return nil, content.ErrNotFound
	}
	return content.FromRow(rows[0]), nil
}

// Delete implements Store. Deleting an ID with no row is not an error.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, p.ident), id); err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	return nil
}

// Column describes one column of the contents table.
type Column struct {
	Name       string  `json:"column_name"`
	DataType   string  `json:"data_type"`
	IsNullable string  `json:"is_nullable"`
	Default    *string `json:"column_default"`
}

// Schema is the shape of the contents table as the database reports it.
type Schema struct {
	Columns []Column `json:"columns"`
	RLS     *bool    `json:"rls"`
}

// Inspect reads the table's columns and whether row level security is on.
func (p *Postgres) Inspect(ctx context.Context) (*Schema, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable, column_default
		 FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`, p.schema, p.table)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	schema := &Schema{Columns: []Column{}}
	for rows.Next() {
		var c Column
		var def sql.NullString
		if err := rows.Scan(&c.Name, &c.DataType, &c.IsNullable, &def); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if def.Valid {
			c.Default = &def.String
		}
		schema.Columns = append(schema.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	var rls bool
	err = p.db.QueryRowContext(ctx, `SELECT relrowsecurity FROM pg_class WHERE relname = $1`, p.table).Scan(&rls)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("query rls: %w", err)
	default:
		schema.RLS = &rls
	}
	return schema, nil
}
