// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/autobrr/watcher/internal/dbinterface"
)

var ErrUnknownColumn = errors.New("unknown column")

type rowScanner interface {
	Scan(dest ...any) error
}

// Table gives every store the same set of operations over one SQL table.
// Column names are checked against the declared columns before they reach a
// query; values are always bound.
type Table[T any] struct {
	db      dbinterface.Querier
	name    string
	columns []string
	retry   RetryPolicy

	// values must return one value per column, in column order.
	values func(T) []any
	scan   func(rowScanner) (T, error)
}

func newTable[T any](db dbinterface.Querier, name string, columns []string, values func(T) []any, scan func(rowScanner) (T, error)) *Table[T] {
	return &Table[T]{
		db:      db,
		name:    name,
		columns: columns,
		retry:   DefaultRetryPolicy(),
		values:  values,
		scan:    scan,
	}
}

func (t *Table[T]) SetRetryPolicy(p RetryPolicy) {
	t.retry = p
}

func (t *Table[T]) checkColumn(column string) error {
	if !slices.Contains(t.columns, column) {
		return fmt.Errorf("%s.%s: %w", t.name, column, ErrUnknownColumn)
	}
	return nil
}

// orderClause validates entries like "score DESC".
func (t *Table[T]) orderClause(orderBy []string) (string, error) {
	if len(orderBy) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(orderBy))
	for _, o := range orderBy {
		fields := strings.Fields(o)
		if len(fields) == 0 || len(fields) > 2 {
			return "", fmt.Errorf("invalid order %q", o)
		}
		if err := t.checkColumn(fields[0]); err != nil {
			return "", err
		}
		if len(fields) == 2 {
			dir := strings.ToUpper(fields[1])
			if dir != "ASC" && dir != "DESC" {
				return "", fmt.Errorf("invalid order direction %q", fields[1])
			}
			parts = append(parts, fields[0]+" "+dir)
			continue
		}
		parts = append(parts, fields[0])
	}

	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// exec runs a write statement under the retry policy.
func (t *Table[T]) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	var affected int64
	err := t.retry.do(ctx, t.name+" "+op, func() error {
		res, err := t.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func (t *Table[T]) Insert(ctx context.Context, row T) error {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.name,
		strings.Join(t.columns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", "),
	)

	_, err := t.exec(ctx, "insert", query, t.values(row)...)
	return err
}

// InsertBatch writes rows with multi-row statements. Each chunk is retried on
// its own, so a busy failure can leave earlier chunks written.
func (t *Table[T]) InsertBatch(ctx context.Context, rows []T) error {
	if len(rows) == 0 {
		return nil
	}

	values := make([][]any, len(rows))
	for i, row := range rows {
		values[i] = t.values(row)
	}

	template := fmt.Sprintf("INSERT INTO %s (%s) VALUES %%s", t.name, strings.Join(t.columns, ", "))

	return dbinterface.ExecBatch(ctx, template, values, func(ctx context.Context, query string, args ...any) error {
		_, err := t.exec(ctx, "insert batch", query, args...)
		return err
	})
}

// Update sets one column on the rows matching keyColumn = key and returns the
// number of rows changed.
func (t *Table[T]) Update(ctx context.Context, column string, value any, keyColumn string, key any) (int64, error) {
	if err := t.checkColumn(column); err != nil {
		return 0, err
	}
	if err := t.checkColumn(keyColumn); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", t.name, column, keyColumn)
	return t.exec(ctx, "update "+column, query, value, key)
}

func (t *Table[T]) Delete(ctx context.Context, keyColumn string, key any) (int64, error) {
	if err := t.checkColumn(keyColumn); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", t.name, keyColumn)
	return t.exec(ctx, "delete", query, key)
}

func (t *Table[T]) Exists(ctx context.Context, keyColumn string, key any) (bool, error) {
	if err := t.checkColumn(keyColumn); err != nil {
		return false, err
	}

	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE %s = ?)", t.name, keyColumn)

	var exists bool
	if err := t.db.QueryRowContext(ctx, query, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s exists: %w", t.name, err)
	}
	return exists, nil
}

func (t *Table[T]) All(ctx context.Context, orderBy ...string) ([]T, error) {
	order, err := t.orderClause(orderBy)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(t.columns, ", "), t.name, order)
	return t.query(ctx, query)
}

// Where returns the rows matching keyColumn = key. No rows is not an error.
func (t *Table[T]) Where(ctx context.Context, keyColumn string, key any, orderBy ...string) ([]T, error) {
	if err := t.checkColumn(keyColumn); err != nil {
		return nil, err
	}
	order, err := t.orderClause(orderBy)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?%s", strings.Join(t.columns, ", "), t.name, keyColumn, order)
	return t.query(ctx, query, key)
}

// First returns the first row matching keyColumn = key, or sql.ErrNoRows.
func (t *Table[T]) First(ctx context.Context, keyColumn string, key any, orderBy ...string) (T, error) {
	var zero T

	rows, err := t.Where(ctx, keyColumn, key, orderBy...)
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, sql.ErrNoRows
	}
	return rows[0], nil
}

func (t *Table[T]) Distinct(ctx context.Context, column string) ([]string, error) {
	if err := t.checkColumn(column); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY %s", column, t.name, column, column)

	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s distinct %s: %w", t.name, column, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}

	return out, rows.Err()
}

func (t *Table[T]) query(ctx context.Context, query string, args ...any) ([]T, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s select: %w", t.name, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		item, err := t.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", t.name, err)
		}
		out = append(out, item)
	}

	return out, rows.Err()
}
