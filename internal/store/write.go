package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/yamnet/internal/query"
)

// Values maps column names to values for Insert and Update.
type Values map[string]any

// columnsFor returns v's columns in sorted order with matching args,
// rejecting columns that c does not have.
func (v Values) columnsFor(c Collection) ([]string, []any, error) {
	allowed := make(map[string]bool)
	for _, col := range c.columns() {
		allowed[col] = true
	}

	cols := make([]string, 0, len(v))
	for col := range v {
		if !allowed[col] {
			return nil, nil, fmt.Errorf("unknown column %q for %s", col, c)
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return nil, nil, fmt.Errorf("no values for %s", c)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, col := range cols {
		args[i] = v[col]
	}
	return cols, args, nil
}

// Insert adds one row to the collection at addr and returns its row key.
//
// Uses ON CONFLICT DO NOTHING: a row that duplicates an existing
// (timestamp, device_id) pair is silently ignored and NoRow is returned
// with a nil error. Other constraint violations return a *TxError.
func (s *Store) Insert(ctx context.Context, addr Address, v Values) (int64, error) {
	c, id, err := s.Resolve(addr)
	if err != nil {
		return NoRow, fmt.Errorf("insert: %w", err)
	}
	if id != 0 {
		return NoRow, fmt.Errorf("insert: %w: cannot insert at item address %s", ErrUnknownCollection, addr)
	}

	cols, args, err := v.columnsFor(c)
	if err != nil {
		return NoRow, fmt.Errorf("insert: %w", err)
	}

	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		c.Table(),
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
	)

	rowID := NoRow
	err = s.withTx(ctx, OpInsert, c, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return nil
		}

		rowID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return NoRow, err
	}

	if rowID == NoRow {
		s.logger.Debug("insert ignored: duplicate sample",
			"collection", c.String(),
			"timestamp", v[ColTimestamp],
			"device_id", v[ColDeviceID])
		return NoRow, nil
	}

	s.notify(ChangeEvent{Address: s.Address(c), Op: OpInsert, RowID: rowID, Count: 1})
	return rowID, nil
}

// Update sets v on every row of addr matching filter and returns the
// number of rows changed. An item address restricts the update to that row.
func (s *Store) Update(ctx context.Context, addr Address, v Values, filter query.Predicate) (int64, error) {
	c, where, params, err := s.compileTarget(addr, filter)
	if err != nil {
		return 0, fmt.Errorf("update: %w", err)
	}

	cols, args, err := v.columnsFor(c)
	if err != nil {
		return 0, fmt.Errorf("update: %w", err)
	}

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = col + " = ?"
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s", c.Table(), strings.Join(sets, ", "), where)
	args = append(args, params...)

	count, err := s.execCount(ctx, OpUpdate, c, stmt, args)
	if err != nil {
		return 0, err
	}

	s.notify(ChangeEvent{Address: s.Address(c), Op: OpUpdate, Count: count})
	return count, nil
}

// Delete removes every row of addr matching filter and returns the number
// of rows removed. An item address restricts the delete to that row.
func (s *Store) Delete(ctx context.Context, addr Address, filter query.Predicate) (int64, error) {
	c, where, params, err := s.compileTarget(addr, filter)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", c.Table(), where)

	count, err := s.execCount(ctx, OpDelete, c, stmt, params)
	if err != nil {
		return 0, err
	}

	s.notify(ChangeEvent{Address: s.Address(c), Op: OpDelete, Count: count})
	return count, nil
}

// execCount runs a single statement in its own transaction and returns
// the number of rows affected.
func (s *Store) execCount(ctx context.Context, op Op, c Collection, stmt string, args []any) (int64, error) {
	var count int64
	err := s.withTx(ctx, op, c, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		count, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		return nil
	})
	return count, err
}

// compileTarget resolves addr and compiles the effective filter, folding an
// item address into an _id equality.
func (s *Store) compileTarget(addr Address, filter query.Predicate) (Collection, string, []any, error) {
	c, id, err := s.Resolve(addr)
	if err != nil {
		return 0, "", nil, err
	}
	if id != 0 {
		filter = query.All(query.Eq(ColID, id), filter)
	}

	where, params, err := collections[c].compiler.Where(filter)
	if err != nil {
		return 0, "", nil, err
	}
	return c, where, params, nil
}
