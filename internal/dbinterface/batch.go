// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"fmt"
	"strings"
)

// SQLite has SQLITE_MAX_VARIABLE_NUMBER limit (default 999, but can be higher)
// Modern SQLite often supports 32766, but we stay conservative at 900
const maxParams = 900

// BuildQueryWithPlaceholders expands the single %s in queryTemplate into rows
// groups of paramsPerRow placeholders, e.g. "(?,?),(?,?)".
func BuildQueryWithPlaceholders(queryTemplate string, paramsPerRow, rows int) string {
	if paramsPerRow <= 0 || rows <= 0 {
		return fmt.Sprintf(queryTemplate, "")
	}

	group := "(" + strings.TrimSuffix(strings.Repeat("?,", paramsPerRow), ",") + ")"

	var sb strings.Builder
	sb.Grow(rows * (len(group) + 1))
	for i := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(group)
	}

	return fmt.Sprintf(queryTemplate, sb.String())
}

// RowsPerChunk returns how many rows of paramsPerRow columns fit in one statement.
func RowsPerChunk(paramsPerRow int) int {
	if paramsPerRow <= 0 {
		return maxParams
	}
	n := maxParams / paramsPerRow
	if n < 1 {
		return 1
	}
	return n
}

// ExecBatch inserts rows using a multi-row VALUES statement per chunk so a
// batch never exceeds the SQLite variable limit. Every row must carry the same
// number of values. Each chunk is executed through exec, which lets callers
// wrap the statement with their own retry policy.
func ExecBatch(ctx context.Context, queryTemplate string, rows [][]any, exec func(ctx context.Context, query string, args ...any) error) error {
	if len(rows) == 0 {
		return nil
	}

	paramsPerRow := len(rows[0])
	for i, row := range rows {
		if len(row) != paramsPerRow {
			return fmt.Errorf("row %d has %d values, expected %d", i, len(row), paramsPerRow)
		}
	}

	chunkSize := RowsPerChunk(paramsPerRow)
	fullQuery := BuildQueryWithPlaceholders(queryTemplate, paramsPerRow, chunkSize)

	for i := 0; i < len(rows); i += chunkSize {
		end := min(i+chunkSize, len(rows))
		chunk := rows[i:end]

		args := make([]any, 0, len(chunk)*paramsPerRow)
		for _, row := range chunk {
			args = append(args, row...)
		}

		query := fullQuery
		if len(chunk) < chunkSize {
			query = BuildQueryWithPlaceholders(queryTemplate, paramsPerRow, len(chunk))
		}

		if err := exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to batch insert rows %d-%d: %w", i, end-1, err)
		}
	}

	return nil
}
