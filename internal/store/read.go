package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/yamnet/internal/query"
)

// Row is one record of either collection. Payload holds the analysis
// results document or the raw PCM blob, depending on the collection.
type Row struct {
	ID        int64
	Timestamp int64
	DeviceID  string
	Duration  int64
	Payload   []byte
}

// Cursor iterates rows returned by Query.
//
// Rows are read eagerly so the single store connection is released before
// Query returns; a caller holding a Cursor never blocks writers.
type Cursor struct {
	rows []Row
	pos  int
}

// Next advances to the next row. It returns false when the rows are exhausted.
func (c *Cursor) Next() bool {
	if c.pos >= len(c.rows) {
		return false
	}
	c.pos++
	return true
}

// Row returns the current row. Only valid after Next returned true.
func (c *Cursor) Row() Row {
	return c.rows[c.pos-1]
}

// Len returns the total number of rows in the cursor.
func (c *Cursor) Len() int {
	return len(c.rows)
}

// All returns every row in the cursor, regardless of position.
func (c *Cursor) All() []Row {
	return c.rows
}

// Close releases the cursor. Safe to call more than once.
func (c *Cursor) Close() error {
	c.rows = nil
	c.pos = 0
	return nil
}

// Query returns the rows of addr matching filter in the given order.
// A nil filter matches every row. Rows are always ordered with _id as
// the final tiebreaker so results are deterministic.
func (s *Store) Query(ctx context.Context, addr Address, filter query.Predicate, order query.Order) (*Cursor, error) {
	c, where, params, err := s.compileTarget(addr, filter)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	orderBy, err := collections[c].compiler.OrderBy(order)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	stmt := fmt.Sprintf(
		"SELECT %s, %s, %s, %s, %s FROM %s WHERE %s ORDER BY %s",
		ColID, ColTimestamp, ColDeviceID, ColDuration, collections[c].payload,
		c.Table(), where, orderBy,
	)

	rows, err := s.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", c, err)
	}

	return &Cursor{rows: out}, nil
}

// Count returns the number of rows of addr matching filter.
func (s *Store) Count(ctx context.Context, addr Address, filter query.Predicate) (int64, error) {
	c, where, params, err := s.compileTarget(addr, filter)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	var n int64
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", c.Table(), where)
	if err := s.db.QueryRowContext(ctx, stmt, params...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", c, err)
	}
	return n, nil
}

func scanRow(rows *sql.Rows) (Row, error) {
	var (
		r        Row
		deviceID sql.NullString
	)
	if err := rows.Scan(&r.ID, &r.Timestamp, &deviceID, &r.Duration, &r.Payload); err != nil {
		return Row{}, fmt.Errorf("scan row: %w", err)
	}
	r.DeviceID = deviceID.String
	return r, nil
}
