package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/supabase-community/postgrest-go"

	"github.com/Fileri/showcase/server/internal/config"
	"github.com/Fileri/showcase/server/internal/content"
)

// Supabase implements Store through the Supabase REST (PostgREST) API.
type Supabase struct {
	client *postgrest.Client
	table  string

	rpcMu sync.Mutex // guards client.ClientError around Rpc
}

// NewSupabase creates a REST client for the configured project
func NewSupabase(cfg config.SupabaseConfig) *Supabase {
	key := cfg.Key()
	restURL := strings.TrimRight(cfg.URL, "/") + "/rest/v1"
	client := postgrest.NewClient(restURL, cfg.Schema, map[string]string{
		"apikey":        key,
		"Authorization": "Bearer " + key,
	})
	return &Supabase{client: client, table: cfg.Table}
}

// Name implements Store
func (s *Supabase) Name() string { return "supabase" }

// PostgREST error codes
const (
	codeNoRows        = "PGRST116" // .single() matched zero rows
	codeUnknownColumn = "PGRST204" // column missing from the schema cache
)

// RESTError is a PostgREST error response.
type RESTError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	err     error
}

func (e *RESTError) Error() string { return e.err.Error() }
func (e *RESTError) Unwrap() error { return e.err }

var restErrorPattern = regexp.MustCompile(`^\(([^)]*)\) (.*)$`)

// restError exposes the code and message postgrest-go folds into "(code) message".
func restError(err error) error {
	m := restErrorPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	return &RESTError{Code: m[1], Message: m[2], err: err}
}

// execute runs q and gives up when ctx ends. postgrest-go requests carry no
// context, so an abandoned request finishes in the background.
func execute(ctx context.Context, q *postgrest.FilterBuilder) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, _, err := q.Execute()
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.data, res.err
	}
}

func isUnknownColumn(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, codeUnknownColumn) || strings.Contains(msg, "Could not find")
}

func mapError(err error) error {
	if strings.Contains(err.Error(), codeNoRows) {
		return fmt.Errorf("%w: %v", content.ErrNotFound, err)
	}
	return err
}

func decodeRow(data []byte) (*content.Content, error) {
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	if row == nil {
		return nil, content.ErrNotFound
	}
	return content.FromRow(row), nil
}

func decodeRows(data []byte) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}

// List implements Store
func (s *Supabase) List(ctx context.Context) ([]*content.Content, error) {
	data, err := execute(ctx, s.client.From(s.table).Select("*", "", false))
	if err != nil {
		return nil, fmt.Errorf("supabase list: %w", err)
	}
	rows, err := decodeRows(data)
	if err != nil {
		return nil, err
	}

	items := make([]*content.Content, 0, len(rows))
	for _, r := range rows {
		items = append(items, content.FromRow(r))
	}
	// The column may be createdAt or createdat, so order here instead of in the query.
	SortNewestFirst(items)
	return items, nil
}

// Get implements Store
func (s *Supabase) Get(ctx context.Context, id string) (*content.Content, error) {
	data, err := execute(ctx, s.client.From(s.table).Select("*", "", false).Eq("id", id).Single())
	if err != nil {
		return nil, fmt.Errorf("supabase get: %w", mapError(err))
	}
	return decodeRow(data)
}

// Column spellings tried on insert, in order: all camelCase, unquoted
// lowercase with quoted camelCase timestamps, then all lowercase.
var insertNamings = []struct {
	contentType, externalURL, createdAt, updatedAt string
}{
	{"contentType", "externalUrl", "createdAt", "updatedAt"},
	{"contenttype", "externalurl", "createdAt", "updatedAt"},
	{"contenttype", "externalurl", "createdat", "updatedat"},
}

// Create implements Store
func (s *Supabase) Create(ctx context.Context, c *content.Content) (*content.Content, error) {
	var (
		data []byte
		err  error
	)
	for i := range insertNamings {
		data, err = execute(ctx, s.client.From(s.table).Insert(insertRow(c, i), false, "", "representation", "").Single())
		if err == nil || !isUnknownColumn(err) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("supabase insert: %w", err)
	}
	return decodeRow(data)
}

func insertRow(c *content.Content, naming int) map[string]any {
	n := insertNamings[naming]
	return map[string]any{
		"id":          c.ID,
		"title":       c.Title,
		"description": c.Description,
		n.contentType: c.ContentType,
		"image":       c.Image,
		n.externalURL: c.ExternalURL,
		"platform":    c.Platform,
		n.createdAt:   c.CreatedAt,
		n.updatedAt:   c.UpdatedAt,
	}
}

// Update implements Store. Tables created through the dashboard keep
// camelCase column names while SQL-created ones fold them to lowercase, so a
// rejected camelCase payload is retried with lowercase keys.
func (s *Supabase) Update(ctx context.Context, id string, u content.Update) (*content.Content, error) {
	data, err := execute(ctx, s.client.From(s.table).Update(u.CamelPayload(), "representation", "").Eq("id", id).Single())
	if err != nil && isUnknownColumn(err) {
		data, err = execute(ctx, s.client.From(s.table).Update(u.LowerPayload(), "representation", "").Eq("id", id).Single())
	}
	if err != nil {
		return nil, fmt.Errorf("supabase update: %w", mapError(err))
	}
	return decodeRow(data)
}

// Delete implements Store. A failure here is final; the file store is not
// consulted once Supabase is configured.
func (s *Supabase) Delete(ctx context.Context, id string) error {
	if _, err := execute(ctx, s.client.From(s.table).Delete("minimal", "").Eq("id", id)); err != nil {
		return Terminal(fmt.Errorf("supabase delete: %w", err))
	}
	return nil
}

// Sample fetches up to limit raw rows, for diagnostics. PostgREST failures
// come back as *RESTError.
func (s *Supabase) Sample(ctx context.Context, limit int) ([]map[string]any, error) {
	data, err := execute(ctx, s.client.From(s.table).Select("*", "", false).Limit(limit, ""))
	if err != nil {
		return nil, restError(err)
	}
	return decodeRows(data)
}

// Columns calls the get_table_columns database function for the table. It
// returns nil when the function is missing or fails; the column list is
// informational only.
func (s *Supabase) Columns(ctx context.Context) []map[string]any {
	if ctx.Err() != nil {
		return nil
	}

	done := make(chan []map[string]any, 1)
	go func() {
		s.rpcMu.Lock()
		defer s.rpcMu.Unlock()

		s.client.ClientError = nil
		body := s.client.Rpc("get_table_columns", "", map[string]string{"table_name": s.table})
		if s.client.ClientError != nil {
			done <- nil
			return
		}
		var cols []map[string]any
		if err := json.Unmarshal([]byte(body), &cols); err != nil {
			done <- nil
			return
		}
		done <- cols
	}()

	select {
	case <-ctx.Done():
		return nil
	case cols := <-done:
		return cols
	}
}

// ProbeAttempt is the result of one column-naming variant.
type ProbeAttempt struct {
	Variant string         `json:"variant"`
	OK      bool           `json:"ok"`
	Count   int            `json:"count,omitempty"`
	Sample  map[string]any `json:"sample,omitempty"`
	Keys    []string       `json:"keys,omitempty"`
	Error   string         `json:"error,omitempty"`
}

var probeVariants = []struct {
	name string
	cols string
}{
	{"select_all", "*"},
	{"lowercase_columns", "id,title,description,contenttype,image,externalurl,platform,createdat,updatedat"},
	{"camelcase_unquoted", "id,title,description,contentType,image,externalUrl,platform,createdAt,updatedAt"},
	{"camelcase_quoted", `"id","title","description","contentType","image","externalUrl","platform","createdAt","updatedAt"`},
}

// Probe selects the table with each column-naming variant to show which
// names the deployed schema accepts.
func (s *Supabase) Probe(ctx context.Context) []ProbeAttempt {
	attempts := make([]ProbeAttempt, 0, len(probeVariants))
	for _, v := range probeVariants {
		a := ProbeAttempt{Variant: v.name}
		if err := ctx.Err(); err != nil {
			a.Error = err.Error()
			attempts = append(attempts, a)
			continue
		}

		data, err := execute(ctx, s.client.From(s.table).Select(v.cols, "", false).Limit(3, ""))
		if err == nil {
			var rows []map[string]any
			rows, err = decodeRows(data)
			if err == nil {
				a.OK = true
				a.Count = len(rows)
				if len(rows) > 0 {
					a.Sample = rows[0]
					for k := range rows[0] {
						a.Keys = append(a.Keys, k)
					}
					sort.Strings(a.Keys)
				}
			}
		}
		if err != nil {
			a.Error = err.Error()
		}
		attempts = append(attempts, a)
	}
	return attempts
}
