package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"camdvr/internal/logging"
	"camdvr/internal/models"
)

// IndexStore is the durable metadata index, backed by MySQL. The pool is
// bounded; callers block (up to checkoutTimeout via context) when it is
// exhausted rather than failing immediately.
type IndexStore struct {
	db      *sql.DB
	timeout time.Duration
}

const schema = `CREATE TABLE IF NOT EXISTS imgInfo (
	id INT NOT NULL AUTO_INCREMENT,
	camNo VARCHAR(8) NOT NULL,
	t_year SMALLINT NOT NULL,
	t_mon TINYINT NOT NULL,
	t_mday TINYINT NOT NULL,
	t_hour TINYINT NOT NULL,
	t_min TINYINT NOT NULL,
	t_sec TINYINT NOT NULL,
	t_mill SMALLINT NOT NULL,
	i_location VARCHAR(256) NOT NULL,
	PRIMARY KEY (id),
	KEY idx_cam_time (camNo, t_year, t_mon, t_mday, t_hour, t_min, t_sec, t_mill)
)`

// OpenIndex connects, bounds the pool and ensures the schema. A failure
// here is process-fatal and is left to the caller.
func OpenIndex(dsn string, poolSize int, checkoutTimeout time.Duration) (*IndexStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize / 2)
	db.SetConnMaxLifetime(time.Hour)

	s := &IndexStore{db: db, timeout: checkoutTimeout}

	ctx, cancel := context.WithTimeout(context.Background(), checkoutTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping index store: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logging.Infof("[index] connected, pool size %d", poolSize)
	return s, nil
}

func (s *IndexStore) Close() error {
	return s.db.Close()
}

func (s *IndexStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// InsertBatch writes the entries in one multi-row statement.
func (s *IndexStore) InsertBatch(ctx context.Context, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("INSERT INTO imgInfo (camNo, t_year, t_mon, t_mday, t_hour, t_min, t_sec, t_mill, i_location) VALUES ")
	args := make([]interface{}, 0, len(entries)*9)
	for i, e := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		k := e.Key
		args = append(args, e.CamNo, k.Year, k.Month, k.Day, k.Hour, k.Minute, k.Second, k.Milli, e.Location)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("bulk insert %d entries: %w", len(entries), err)
	}
	return nil
}

const keyColumns = "t_year, t_mon, t_mday, t_hour, t_min, t_sec, t_mill"

// PageFrom returns up to limit rows for camNo whose key orders after
// from (at-or-after when inclusive, for the first fetch of a playback
// session), sorted by the key tuple. Keyset pagination: the caller
// passes the last returned key to get the next page.
func (s *IndexStore) PageFrom(ctx context.Context, camNo string, from models.TimeKey, inclusive bool, limit int) ([]models.IndexEntry, error) {
	op := ">"
	if inclusive {
		op = ">="
	}
	query := fmt.Sprintf(
		"SELECT camNo, %s, i_location FROM imgInfo WHERE camNo = ? AND (%s) %s (?, ?, ?, ?, ?, ?, ?) ORDER BY %s LIMIT ?",
		keyColumns, keyColumns, op, keyColumns)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, query,
		camNo, from.Year, from.Month, from.Day, from.Hour, from.Minute, from.Second, from.Milli, limit)
	if err != nil {
		return nil, fmt.Errorf("page query: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// QueryFilter is the optional field-equality filter set used by the HTTP
// query API. Zero means "not filtered" for date fields; hour and finer
// use -1 since zero is a valid value.
type QueryFilter struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

// EmptyFilter returns a filter that matches everything.
func EmptyFilter() QueryFilter {
	return QueryFilter{Hour: -1, Minute: -1, Second: -1}
}

// Query returns rows for camNo matching the filter, key-ordered.
func (s *IndexStore) Query(ctx context.Context, camNo string, f QueryFilter, limit int) ([]models.IndexEntry, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT camNo, %s, i_location FROM imgInfo WHERE camNo = ?", keyColumns)
	args := []interface{}{camNo}

	add := func(col string, v int) {
		fmt.Fprintf(&b, " AND %s = ?", col)
		args = append(args, v)
	}
	if f.Year > 0 {
		add("t_year", f.Year)
	}
	if f.Month > 0 {
		add("t_mon", f.Month)
	}
	if f.Day > 0 {
		add("t_mday", f.Day)
	}
	if f.Hour >= 0 {
		add("t_hour", f.Hour)
	}
	if f.Minute >= 0 {
		add("t_min", f.Minute)
	}
	if f.Second >= 0 {
		add("t_sec", f.Second)
	}
	fmt.Fprintf(&b, " ORDER BY %s LIMIT ?", keyColumns)
	args = append(args, limit)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("filter query: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Count reports the number of rows, total or for one camera.
func (s *IndexStore) Count(ctx context.Context, camNo string) (int64, error) {
	query := "SELECT COUNT(*) FROM imgInfo"
	args := []interface{}{}
	if camNo != "" {
		query += " WHERE camNo = ?"
		args = append(args, camNo)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]models.IndexEntry, error) {
	var entries []models.IndexEntry
	for rows.Next() {
		var e models.IndexEntry
		k := &e.Key
		if err := rows.Scan(&e.CamNo, &k.Year, &k.Month, &k.Day, &k.Hour, &k.Minute, &k.Second, &k.Milli, &e.Location); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return entries, nil
}
