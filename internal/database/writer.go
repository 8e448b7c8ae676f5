// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"strings"
	"unicode"

	"github.com/autobrr/autobrr/pkg/ttlcache"
)

type writeJob struct {
	ctx   context.Context
	query string
	args  []any
	done  chan writeResult
}

type writeResult struct {
	res sql.Result
	err error
}

var writeKeywords = []string{"INSERT", "UPDATE", "UPSERT", "REPLACE", "DELETE"}

// isWriteQuery looks only at the leading keyword.
func isWriteQuery(query string) bool {
	head := strings.TrimLeftFunc(query, unicode.IsSpace)
	if end := strings.IndexFunc(head, unicode.IsSpace); end >= 0 {
		head = head[:end]
	}
	for _, kw := range writeKeywords {
		if strings.EqualFold(head, kw) {
			return true
		}
	}
	return false
}

// ExecContext queues writes for the writer goroutine and runs anything else
// directly on the pool.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if !isWriteQuery(query) {
		if stmt, err := db.prepared(ctx, query); err == nil {
			return stmt.ExecContext(ctx, args...)
		}
		return db.conn.ExecContext(ctx, query, args...)
	}

	if db.closing.Load() {
		return nil, errStopping
	}

	job := writeJob{ctx: ctx, query: query, args: args, done: make(chan writeResult, 1)}
	select {
	case db.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-db.stop:
		return nil, errStopping
	}

	select {
	case out := <-job.done:
		return out.res, out.err
	case <-db.exited:
		// the writer may have finished this job right before it returned
		select {
		case out := <-job.done:
			return out.res, out.err
		default:
			return nil, errStopping
		}
	}
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if stmt, err := db.prepared(ctx, query); err == nil {
		return stmt.QueryContext(ctx, args...)
	}
	return db.conn.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if stmt, err := db.prepared(ctx, query); err == nil {
		return stmt.QueryRowContext(ctx, args...)
	}
	return db.conn.QueryRowContext(ctx, query, args...)
}

func (db *DB) prepared(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := db.stmts.Get(query); ok && stmt != nil {
		return stmt, nil
	}

	stmt, err := db.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	db.stmts.Set(query, stmt, ttlcache.DefaultTTL)
	return stmt, nil
}

// runWriter executes queued writes in order. On stop it finishes whatever is
// already queued. Jobs enqueued after it returns are never run; their callers
// see exited closed.
func (db *DB) runWriter() {
	defer close(db.exited)

	for {
		select {
		case job := <-db.jobs:
			db.write(job)
		case <-db.stop:
			for {
				select {
				case job := <-db.jobs:
					db.write(job)
				default:
					return
				}
			}
		}
	}
}

// write skips the statement cache since batch inserts vary in placeholder
// count.
func (db *DB) write(job writeJob) {
	res, err := db.writer.ExecContext(job.ctx, job.query, job.args...)
	job.done <- writeResult{res: res, err: err}
}
