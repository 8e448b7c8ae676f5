// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSummary(t *testing.T) {
	want := fmt.Sprintf("watcher/%s (%s %s)", Version, runtime.GOOS, runtime.GOARCH)
	assert.Equal(t, want, UserAgent)

	assert.Equal(t, "Version: "+Version+"\nCommit: "+Commit+"\nBuild date: "+Date+"\n", String())

	data, err := JSON()
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"version":%q,"commit":%q,"date":%q}`, Version, Commit, Date), string(data))
}
