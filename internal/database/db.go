// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package database owns the SQLite file behind the movie library.
//
// Reads go through the pooled connections with cached prepared statements.
// Writes are queued to one goroutine holding a dedicated connection, so the
// stores never contend with each other for the write lock. Contention that
// still surfaces is retried by the stores in internal/models.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"

	"github.com/autobrr/watcher/internal/dbinterface"
)

const (
	defaultBusyTimeout       = 5 * time.Second
	defaultBusyTimeoutMillis = int(defaultBusyTimeout / time.Millisecond)
	connectionSetupTimeout   = 5 * time.Second
	writeQueueSize           = 256
	stmtTTL                  = 5 * time.Minute
)

var errStopping = errors.New("db stopping")

type DB struct {
	conn   *sql.DB
	writer *sql.Conn
	jobs   chan writeJob
	stmts  *ttlcache.Cache[string, *sql.Stmt]

	stop      chan struct{}
	exited    chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Tx is a transaction usable wherever a dbinterface.TxQuerier is expected.
type Tx struct {
	*sql.Tx
}

var hookOnce sync.Once

// connectionPragmas run on every connection the driver opens.
func connectionPragmas() []string {
	return []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeoutMillis),
	}
}

func installConnectionHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, _ string) error {
			ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
			defer cancel()

			for _, pragma := range connectionPragmas() {
				if _, err := conn.ExecContext(ctx, pragma, nil); err != nil {
					return fmt.Errorf("connection hook %q: %w", pragma, err)
				}
			}
			return nil
		})
	})
}

// New opens (creating if needed) the database at path, applies pending
// migrations and starts the writer.
func New(path string) (*DB, error) {
	log.Info().Str("path", path).Msg("Opening database")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	installConnectionHook()

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	db := &DB{
		conn: conn,
		jobs: make(chan writeJob, writeQueueSize),
		stmts: ttlcache.New(ttlcache.Options[string, *sql.Stmt]{}.
			SetDefaultTTL(stmtTTL).
			SetDeallocationFunc(func(_ string, s *sql.Stmt, _ ttlcache.DeallocationReason) {
				if s != nil {
					_ = s.Close()
				}
			})),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
	defer cancel()

	if err := db.setup(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go db.runWriter()

	return db, nil
}

// setup migrates on a single connection, then opens the pool up for readers
// and reserves the writer connection.
func (db *DB) setup(ctx context.Context) error {
	db.conn.SetMaxOpenConns(1)
	db.conn.SetMaxIdleConns(1)

	if err := db.migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	db.conn.SetMaxOpenConns(0)
	db.conn.SetMaxIdleConns(2)

	writer, err := db.conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire write connection: %w", err)
	}
	db.writer = writer

	return nil
}

// BeginTx starts a transaction. Anything but a read-only transaction runs on
// the writer connection.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (dbinterface.TxQuerier, error) {
	begin := db.writer.BeginTx
	if opts != nil && opts.ReadOnly {
		begin = db.conn.BeginTx
	}

	tx, err := begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx}, nil
}

// Close drains queued writes and closes every connection. It is safe to call
// more than once.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
		defer cancel()
		if _, err := db.conn.ExecContext(ctx, "PRAGMA optimize"); err != nil {
			log.Warn().Err(err).Msg("PRAGMA optimize failed during close")
		}

		db.closing.Store(true)
		close(db.stop)
		<-db.exited

		db.stmts.Close()
		if err := db.writer.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close write connection")
		}
		db.closeErr = db.conn.Close()
	})

	return db.closeErr
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

// PingContext fails as soon as Close starts.
func (db *DB) PingContext(ctx context.Context) error {
	if db.closing.Load() {
		return errStopping
	}
	return db.conn.PingContext(ctx)
}

func (db *DB) PendingWrites() int {
	return len(db.jobs)
}
