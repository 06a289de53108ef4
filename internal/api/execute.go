package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/forgelight/vigil/internal/model"
	"github.com/forgelight/vigil/internal/trigger"
)

// maxExecuteBody bounds the monitor definition payload.
const maxExecuteBody = 1 << 20

// handleExecute runs a monitor definition from the request body once and
// returns the run result. Dryrun defaults to true: the preview renders
// actions without publishing and persists nothing. With dryrun=false the run
// publishes, but still persists nothing unless the definition carries the id
// of a saved monitor.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	dryrun := true
	if raw := r.URL.Query().Get("dryrun"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			JSONError(w, NewBadRequest("dryrun must be a boolean"))
			return
		}
		dryrun = parsed
	}

	var monitor model.Monitor
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExecuteBody))
	if err := dec.Decode(&monitor); err != nil {
		JSONError(w, NewBadRequest("invalid monitor document: "+err.Error()))
		return
	}

	if err := monitor.Validate(); err != nil {
		JSONError(w, NewValidationError(err.Error()))
		return
	}
	for _, tr := range monitor.Triggers {
		if err := trigger.CheckSyntax(&monitor, tr); err != nil {
			JSONError(w, NewValidationError(err.Error()))
			return
		}
	}
	monitor.EnsureIDs()

	interval, err := monitor.Schedule.Period.Duration()
	if err != nil {
		JSONError(w, NewValidationError("schedule: "+err.Error()))
		return
	}
	periodEnd := s.now()
	periodStart := periodEnd.Add(-interval)

	ctx, cancel := context.WithTimeout(r.Context(), s.config.ExecuteTimeout)
	defer cancel()

	result := s.executor.RunMonitor(ctx, &monitor, periodStart, periodEnd, dryrun)
	OK(w, result)
}
