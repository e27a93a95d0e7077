// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/conductor-core/conductor/internal/daemon/httputil"
	"github.com/conductor-core/conductor/internal/dlq"
	"github.com/conductor-core/conductor/internal/health"
	"github.com/conductor-core/conductor/internal/ledger"
	"github.com/conductor-core/conductor/internal/operations"
	"github.com/conductor-core/conductor/internal/runtime"
	"github.com/conductor-core/conductor/internal/scheduler"
)

// routes wires the operations facade behind a plain net/http mux; every
// handler is a thin translation from an HTTP request into one Facade call
// and its OperationResult back out as JSON.
func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", d.health.Handler())
	mux.HandleFunc("GET /livez", health.LivenessHandler)

	mux.HandleFunc("GET /api/v1/executions", d.handleListExecutions)
	mux.HandleFunc("POST /api/v1/executions", d.handleSubmitExecution)
	mux.HandleFunc("GET /api/v1/executions/{id}", d.handleGetExecution)
	mux.HandleFunc("POST /api/v1/executions/{id}/cancel", d.handleCancelExecution)
	mux.HandleFunc("POST /api/v1/executions/{id}/retry", d.handleRetryExecution)

	mux.HandleFunc("GET /api/v1/workflows", d.handleListWorkflows)
	mux.HandleFunc("GET /api/v1/workflows/{name}", d.handleGetWorkflow)
	mux.HandleFunc("POST /api/v1/workflows/{name}/run", d.handleRunWorkflow)

	mux.HandleFunc("GET /api/v1/schedules", d.handleListSchedules)
	mux.HandleFunc("POST /api/v1/schedules", d.handleCreateSchedule)
	mux.HandleFunc("GET /api/v1/schedules/{id}", d.handleGetSchedule)
	mux.HandleFunc("PUT /api/v1/schedules/{id}", d.handleUpdateSchedule)
	mux.HandleFunc("POST /api/v1/schedules/{id}/pause", d.handlePauseSchedule)
	mux.HandleFunc("POST /api/v1/schedules/{id}/resume", d.handleResumeSchedule)
	mux.HandleFunc("POST /api/v1/schedules/{id}/trigger", d.handleTriggerSchedule)
	mux.HandleFunc("DELETE /api/v1/schedules/{id}", d.handleDeleteSchedule)

	mux.HandleFunc("GET /api/v1/dlq", d.handleListRejects)
	mux.HandleFunc("POST /api/v1/dlq/{id}/replay", d.handleReplayReject)
	mux.HandleFunc("POST /api/v1/dlq/{id}/resolve", d.handleResolveReject)

	return mux
}

func writeResult[T any](w http.ResponseWriter, result operations.OperationResult[T]) {
	status := http.StatusOK
	if !result.Success {
		switch result.Error.Code {
		case operations.CodeNotFound:
			status = http.StatusNotFound
		case operations.CodeValidationFailed:
			status = http.StatusBadRequest
		case operations.CodeConflict:
			status = http.StatusConflict
		default:
			status = http.StatusInternalServerError
		}
	}
	httputil.WriteJSON(w, status, result)
}

func opContext(r *http.Request) operations.OperationContext {
	dryRun := r.URL.Query().Get("dry_run") == "true"
	return operations.OperationContext{CallerID: callerID(r), DryRun: dryRun}
}

func callerID(r *http.Request) string {
	if id := r.Header.Get("X-Caller-ID"); id != "" {
		return id
	}
	return "api"
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (d *Daemon) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.Filter{
		Workflow: q.Get("workflow"),
		Status:   ledger.Status(q.Get("status")),
		Lane:     q.Get("lane"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}
	writeResult(w, d.ops.ListExecutions(r.Context(), filter))
}

func (d *Daemon) handleSubmitExecution(w http.ResponseWriter, r *http.Request) {
	var spec runtime.ContainerJobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	writeResult(w, d.ops.SubmitExecution(r.Context(), opContext(r), spec))
}

func (d *Daemon) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	writeResult(w, d.ops.GetExecution(r.Context(), r.PathValue("id")))
}

func (d *Daemon) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	writeResult(w, d.ops.CancelExecution(r.Context(), opContext(r), r.PathValue("id")))
}

func (d *Daemon) handleRetryExecution(w http.ResponseWriter, r *http.Request) {
	writeResult(w, d.ops.RetryExecution(r.Context(), opContext(r), r.PathValue("id")))
}

func (d *Daemon) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	writeResult(w, d.ops.ListWorkflows(r.Context()))
}

func (d *Daemon) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	writeResult(w, d.ops.GetWorkflow(r.Context(), r.PathValue("name")))
}

func (d *Daemon) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	writeResult(w, d.ops.RunWorkflow(r.Context(), opContext(r), r.PathValue("name"), params))
}

func (d *Daemon) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	writeResult(w, d.ops.ListSchedules(r.Context()))
}

func (d *Daemon) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var sched scheduler.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	writeResult(w, d.ops.CreateSchedule(r.Context(), opContext(r), &sched))
}

func (d *Daemon) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	writeResult(w, d.ops.GetSchedule(r.Context(), r.PathValue("id")))
}

func (d *Daemon) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var sched scheduler.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	writeResult(w, d.ops.UpdateSchedule(r.Context(), opContext(r), r.PathValue("id"), &sched))
}

func (d *Daemon) handlePauseSchedule(w http.ResponseWriter, r *http.Request) {
	writeResult(w, d.ops.PauseSchedule(r.Context(), opContext(r), r.PathValue("id")))
}

func (d *Daemon) handleResumeSchedule(w http.ResponseWriter, r *http.Request) {
	writeResult(w, d.ops.ResumeSchedule(r.Context(), opContext(r), r.PathValue("id")))
}

func (d *Daemon) handleTriggerSchedule(w http.ResponseWriter, r *http.Request) {
	writeResult(w, d.ops.TriggerSchedule(r.Context(), opContext(r), r.PathValue("id")))
}

func (d *Daemon) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	writeResult(w, d.ops.DeleteSchedule(r.Context(), opContext(r), r.PathValue("id")))
}

func (d *Daemon) handleListRejects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := dlq.Filter{
		Workflow: q.Get("workflow"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}
	unresolvedOnly := q.Get("unresolved") != "false"
	writeResult(w, d.ops.ListRejects(r.Context(), filter, unresolvedOnly))
}

func (d *Daemon) handleReplayReject(w http.ResponseWriter, r *http.Request) {
	writeResult(w, d.ops.ReplayReject(r.Context(), opContext(r), r.PathValue("id")))
}

func (d *Daemon) handleResolveReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ResolvedBy string `json:"resolved_by"`
		Note       string `json:"note"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	writeResult(w, d.ops.ResolveReject(r.Context(), opContext(r), r.PathValue("id"), body.ResolvedBy, body.Note))
}
