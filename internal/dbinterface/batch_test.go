// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"
)

func TestBuildQueryWithPlaceholders(t *testing.T) {
	tests := []struct {
		name         string
		paramsPerRow int
		rows         int
		expected     string
	}{
		{name: "single row single param", paramsPerRow: 1, rows: 1, expected: "INSERT INTO t VALUES (?)"},
		{name: "two rows three params", paramsPerRow: 3, rows: 2, expected: "INSERT INTO t VALUES (?,?,?),(?,?,?)"},
		{name: "zero rows", paramsPerRow: 2, rows: 0, expected: "INSERT INTO t VALUES "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildQueryWithPlaceholders("INSERT INTO t VALUES %s", tt.paramsPerRow, tt.rows)
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestRowsPerChunk(t *testing.T) {
	if got := RowsPerChunk(15); got != 60 {
		t.Errorf("expected 60 rows per chunk for 15 columns, got %d", got)
	}
	if got := RowsPerChunk(maxParams + 1); got != 1 {
		t.Errorf("expected at least one row per chunk, got %d", got)
	}
}

func TestExecBatchLargeInsert(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE results (guid TEXT PRIMARY KEY, title TEXT NOT NULL, size INTEGER)`); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	ctx := context.Background()

	// 3 params per row puts this batch across several chunks.
	rows := make([][]any, 1000)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("guid-%d", i), fmt.Sprintf("Release %d", i), int64(i)}
	}

	var statements int
	err = ExecBatch(ctx, "INSERT INTO results (guid, title, size) VALUES %s", rows, func(ctx context.Context, query string, args ...any) error {
		statements++
		_, err := db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		t.Fatalf("ExecBatch failed: %v", err)
	}

	if statements != 4 {
		t.Errorf("expected 4 statements for 1000 rows, got %d", statements)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM results").Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if count != len(rows) {
		t.Errorf("expected %d rows, got %d", len(rows), count)
	}
}

func TestExecBatchRejectsRaggedRows(t *testing.T) {
	rows := [][]any{{"a", 1}, {"b"}}

	err := ExecBatch(context.Background(), "INSERT INTO t VALUES %s", rows, func(context.Context, string, ...any) error {
		t.Fatal("exec must not be called for invalid input")
		return nil
	})
	if err == nil {
		t.Fatal("expected error for rows with differing lengths")
	}
}

func TestExecBatchEmpty(t *testing.T) {
	called := false
	err := ExecBatch(context.Background(), "INSERT INTO t VALUES %s", nil, func(context.Context, string, ...any) error {
		called = true
		return nil
	})
	if err != nil || called {
		t.Fatalf("expected no-op for empty batch, err=%v called=%v", err, called)
	}
}
