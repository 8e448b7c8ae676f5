// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package testdb hands out migrated SQLite databases for tests. Migrations run
// once per key and every test receives its own copy of that file.
package testdb

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/autobrr/watcher/internal/database"
)

type seed struct {
	once sync.Once
	data []byte
	err  error
}

var (
	seeds sync.Map // key -> *seed
	osFs  = afero.Afero{Fs: afero.NewOsFs()}
)

// Open returns a migrated database private to t, closed on cleanup.
func Open(t *testing.T, key string) *database.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "watcher.db")
	if err := osFs.WriteFile(path, migrated(t, key), 0o644); err != nil {
		t.Fatalf("write test DB %q: %v", key, err)
	}

	db, err := database.New(path)
	if err != nil {
		t.Fatalf("open test DB %q: %v", key, err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func migrated(t *testing.T, key string) []byte {
	t.Helper()

	v, _ := seeds.LoadOrStore(key, &seed{})
	s := v.(*seed)
	s.once.Do(func() {
		s.data, s.err = migrate(key)
	})
	if s.err != nil {
		t.Fatalf("migrate test DB %q: %v", key, s.err)
	}
	return s.data
}

// migrate builds a fresh schema and returns the checkpointed file contents.
func migrate(key string) ([]byte, error) {
	dir, err := osFs.TempDir("", "watcher-testdb-"+strings.ReplaceAll(key, string(os.PathSeparator), "-"))
	if err != nil {
		return nil, err
	}
	defer osFs.RemoveAll(dir)

	path := filepath.Join(dir, "seed.db")
	db, err := database.New(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Conn().Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint seed db: %w", err)
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("close seed db: %w", err)
	}

	return osFs.ReadFile(path)
}
