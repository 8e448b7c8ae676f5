// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package postprocessing

// Outcome is returned to the download client after processing. Every task
// key is always present; tasks that did not apply report enabled=false.
type Outcome struct {
	Status string            `json:"status"`
	Data   map[string]string `json:"data"`
	Tasks  Tasks             `json:"tasks"`
}

const (
	StatusIncomplete = "incomplete"
	StatusFinished   = "finished"
)

type Tasks struct {
	GUID              GUIDTask   `json:"guid"`
	GUID2             GUIDTask   `json:"guid2"`
	UpdateMovieStatus MovieTask  `json:"update_movie_status"`
	Renamer           SwitchTask `json:"renamer"`
	Mover             SwitchTask `json:"mover"`
	Cleanup           SwitchTask `json:"cleanup"`
	Autograb          SwitchTask `json:"autograb"`
}

// GUIDTask reports the status writes for one release guid.
type GUIDTask struct {
	GUID          string `json:"url"`
	SearchResults bool   `json:"update_searchresults"`
	MarkedResults bool   `json:"update_markedresults"`
}

type MovieTask struct {
	Response bool   `json:"response"`
	Status   string `json:"status,omitempty"`
}

// SwitchTask is an optional step. Response is only meaningful when Enabled.
type SwitchTask struct {
	Enabled  bool   `json:"enabled"`
	Response bool   `json:"response"`
	Path     string `json:"path,omitempty"`
}
