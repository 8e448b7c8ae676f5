// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/watcher/internal/services/postprocessing"
)

type PostProcessor interface {
	Process(ctx context.Context, req postprocessing.Request) (*postprocessing.Outcome, error)
	Reject()
}

type PostProcessingHandler struct {
	processor PostProcessor
}

func NewPostProcessingHandler(processor PostProcessor) *PostProcessingHandler {
	return &PostProcessingHandler{processor: processor}
}

// Handle accepts the request as query params or as a urlencoded form.
func (h *PostProcessingHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		RespondLegacyError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	req, err := postprocessing.RequestFromValues(r.Form)
	if err != nil {
		h.processor.Reject()
		log.Info().Err(err).Msg("post-processing request rejected")
		RespondLegacyError(w, http.StatusOK, err.Error())
		return
	}

	outcome, err := h.processor.Process(r.Context(), req)
	switch {
	case errors.Is(err, postprocessing.ErrIncorrectAPIKey), errors.Is(err, postprocessing.ErrInvalidMode):
		RespondLegacyError(w, http.StatusOK, err.Error())
	case err != nil:
		log.Error().Err(err).Str("guid", req.GUID).Msg("post-processing failed")
		RespondLegacyError(w, http.StatusInternalServerError, err.Error())
	default:
		RespondJSON(w, http.StatusOK, outcome)
	}
}
