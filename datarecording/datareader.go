package datarecording

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownTable is returned when reading a table the recording does
	// not have.
	ErrUnknownTable = errors.New("datarecording: unknown table")

	// ErrInvalidPage is returned when a page orders or filters by a column
	// the table does not have.
	ErrInvalidPage = errors.New("datarecording: invalid page")
)

// Page selects rows of a table.
type Page struct {
	// Match keeps the rows whose column equals the value. Keys must be
	// column names.
	Match map[string]any

	// Where is an extra filter without the WHERE keyword, such as
	// "Ticks > ?". Its placeholders are bound to Args. It is trusted.
	Where string
	Args  []any

	// OrderBy is a column name, optionally followed by ASC or DESC. Rows
	// are returned in recording order by default.
	OrderBy string

	// Limit is the maximum number of rows. 0 means no limit.
	Limit  int
	Offset int
}

// Rows is the result of reading a page of a table.
type Rows struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	// Total counts the rows that pass the filters, ignoring Limit and
	// Offset.
	Total int `json:"total"`
	// Entries are pointers to the struct mapped with MapTable, or
	// map[string]any keyed by column for unmapped tables.
	Entries []any `json:"entries"`
}

// Reader reads back the tables of a recording.
type Reader struct {
	db *sql.DB

	mu    sync.Mutex
	types map[string]reflect.Type
}

// OpenReader opens an existing recording file read-only.
func OpenReader(filename string) (*Reader, error) {
	if _, err := os.Stat(filename); err != nil {
		return nil, fmt.Errorf("datarecording: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+filename+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("datarecording: opening %s: %w", filename, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("datarecording: opening %s: %w", filename, err)
	}

	return NewReaderWithDB(db), nil
}

// NewReaderWithDB creates a Reader over an open database.
func NewReaderWithDB(db *sql.DB) *Reader {
	return &Reader{
		db:    db,
		types: make(map[string]reflect.Type),
	}
}

// MapTable makes Read return the rows of table as pointers to structs of the
// type of sample. Columns are matched to fields by name.
func (r *Reader) MapTable(table string, sample any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.types[table] = reflect.TypeOf(sample)
}

// Tables lists the tables of the recording, sorted by name.
func (r *Reader) Tables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("datarecording: listing tables: %w", err)
	}
	defer rows.Close()

	var tables []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		tables = append(tables, name)
	}

	return tables, rows.Err()
}

// Columns returns the columns of table in declaration order.
func (r *Reader) Columns(ctx context.Context, table string) ([]string, error) {
	if err := r.checkTable(ctx, table); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("datarecording: columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		columns = append(columns, name)
	}

	return columns, rows.Err()
}

func (r *Reader) checkTable(ctx context.Context, table string) error {
	tables, err := r.Tables(ctx)
	if err != nil {
		return err
	}

	if !slices.Contains(tables, table) {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	return nil
}

// Read returns a page of table. Table and column names are checked against
// the recording before they are put into the query.
func (r *Reader) Read(ctx context.Context, table string, page Page) (*Rows, error) {
	columns, err := r.Columns(ctx, table)
	if err != nil {
		return nil, err
	}

	filter, args, err := buildFilter(columns, page)
	if err != nil {
		return nil, err
	}

	order, err := buildOrder(columns, page.OrderBy)
	if err != nil {
		return nil, err
	}

	out := &Rows{Table: table, Columns: columns}

	countQuery := "SELECT COUNT(*) FROM " + quoteIdent(table) + filter
	if err := r.db.QueryRowContext(ctx, countQuery, args...).
		Scan(&out.Total); err != nil {
		return nil, fmt.Errorf("datarecording: counting %s: %w", table, err)
	}

	query := "SELECT * FROM " + quoteIdent(table) + filter + order
	if page.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", page.Limit, max(page.Offset, 0))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("datarecording: reading %s: %w", table, err)
	}
	defer rows.Close()

	r.mu.Lock()
	structType, mapped := r.types[table]
	r.mu.Unlock()

	if mapped {
		out.Entries, err = scanStructs(rows, structType)
	} else {
		out.Entries, err = scanMaps(rows)
	}

	if err != nil {
		return nil, fmt.Errorf("datarecording: reading %s: %w", table, err)
	}

	return out, nil
}

func buildFilter(columns []string, page Page) (string, []any, error) {
	var (
		conds []string
		args  []any
	)

	keys := make([]string, 0, len(page.Match))
	for k := range page.Match {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		if !slices.Contains(columns, k) {
			return "", nil, fmt.Errorf("%w: no column %q", ErrInvalidPage, k)
		}

		conds = append(conds, quoteIdent(k)+" = ?")
		args = append(args, page.Match[k])
	}

	if page.Where != "" {
		conds = append(conds, "("+page.Where+")")
		args = append(args, page.Args...)
	}

	if len(conds) == 0 {
		return "", nil, nil
	}

	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func buildOrder(columns []string, orderBy string) (string, error) {
	if orderBy == "" {
		return " ORDER BY rowid", nil
	}

	fields := strings.Fields(orderBy)

	dir := "ASC"
	switch {
	case len(fields) == 2 && strings.EqualFold(fields[1], "desc"):
		dir = "DESC"
	case len(fields) == 2 && strings.EqualFold(fields[1], "asc"):
	case len(fields) != 1:
		return "", fmt.Errorf("%w: order %q", ErrInvalidPage, orderBy)
	}

	if !slices.Contains(columns, fields[0]) {
		return "", fmt.Errorf("%w: no column %q", ErrInvalidPage, fields[0])
	}

	return " ORDER BY " + quoteIdent(fields[0]) + " " + dir + ", rowid", nil
}

func scanStructs(rows *sql.Rows, structType reflect.Type) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var entries []any

	for rows.Next() {
		ptr := reflect.New(structType)
		targets := make([]any, len(columns))

		for i, col := range columns {
			if f := ptr.Elem().FieldByName(col); f.IsValid() && f.CanSet() {
				targets[i] = f.Addr().Interface()
			} else {
				targets[i] = new(any)
			}
		}

		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}

		entries = append(entries, ptr.Interface())
	}

	return entries, rows.Err()
}

func scanMaps(rows *sql.Rows) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var entries []any

	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))

		for i := range values {
			targets[i] = &values[i]
		}

		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}

		entry := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				entry[col] = string(b)
			} else {
				entry[col] = values[i]
			}
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Close closes the database.
func (r *Reader) Close() error {
	return r.db.Close()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
