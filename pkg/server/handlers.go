package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/ilm/pkg/lifecycle"
	"mercator-hq/ilm/pkg/lifecycle/journal"
	"mercator-hq/ilm/pkg/lifecycle/manager"
	"mercator-hq/ilm/pkg/lifecycle/policyfile"
	"mercator-hq/ilm/pkg/telemetry/logging"
)

// maxBodyBytes bounds request bodies; every API body is a small JSON object.
const maxBodyBytes = 64 << 10

// WriteRequest is the body of POST /v1/streams/{stream}/writes.
type WriteRequest struct {
	Bytes *int64 `json:"bytes"`
}

// RecordsResponse lists a stream's index records.
type RecordsResponse struct {
	Stream  string                  `json:"stream"`
	Records []lifecycle.IndexRecord `json:"records"`
}

// ActionsResponse lists the actions a cycle at At would take.
type ActionsResponse struct {
	Stream  string             `json:"stream"`
	At      time.Time          `json:"at"`
	Actions []lifecycle.Action `json:"actions"`
}

// PolicyResponse is one stream's policy in policy file form.
type PolicyResponse struct {
	Stream string `json:"stream"`
	policyfile.Entry
}

// JournalResponse is a page of journal entries.
type JournalResponse struct {
	Entries []journal.Entry `json:"entries"`
	Total   int64           `json:"total"`
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	stream := r.PathValue("stream")

	var req WriteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error())
		return
	}
	if req.Bytes == nil {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "missing field \"bytes\"")
		return
	}

	record, err := s.manager.RecordWrite(stream, *req.Bytes)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	// Unknown streams have no records; this is a query, not an error.
	stream := r.PathValue("stream")
	writeJSON(w, http.StatusOK, RecordsResponse{
		Stream:  stream,
		Records: s.manager.Store().ListRecords(stream),
	})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	stream := r.PathValue("stream")

	at := s.now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest,
				fmt.Sprintf("invalid \"at\": %v", err))
			return
		}
		at = parsed
	}

	actions, err := s.manager.Evaluate(stream, at)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	if actions == nil {
		actions = []lifecycle.Action{}
	}
	writeJSON(w, http.StatusOK, ActionsResponse{Stream: stream, At: at, Actions: actions})
}

func (s *Server) handleListPolicies(w http.ResponseWriter, _ *http.Request) {
	policies := s.manager.Store().Policies()
	doc := policyfile.Document{Streams: make(map[string]policyfile.Entry, len(policies))}
	for _, p := range policies {
		doc.Streams[p.Stream] = policyfile.EntryFor(p)
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	stream := r.PathValue("stream")
	p, ok := s.manager.Store().Policy(stream)
	if !ok {
		writeLifecycleError(w, fmt.Errorf("stream %q: %w", stream, lifecycle.ErrUnknownStream))
		return
	}
	writeJSON(w, http.StatusOK, PolicyResponse{Stream: stream, Entry: policyfile.EntryFor(p)})
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	stream := r.PathValue("stream")

	var entry policyfile.Entry
	if err := decodeBody(r, &entry); err != nil {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error())
		return
	}

	policy, err := entry.Policy(stream)
	if err != nil {
		if errors.Is(err, lifecycle.ErrInvalidPolicy) {
			writeLifecycleError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error())
		return
	}
	if err := s.manager.RegisterPolicy(policy); err != nil {
		writeLifecycleError(w, err)
		return
	}

	s.logger.InfoContext(r.Context(), "policy updated via API", "stream", stream)
	writeJSON(w, http.StatusOK, PolicyResponse{Stream: stream, Entry: policyfile.EntryFor(policy)})
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	stream := r.PathValue("stream")
	if err := s.manager.RemovePolicy(stream); err != nil {
		writeLifecycleError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "policy removed via API", "stream", stream)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithTrigger(r.Context(), "api")
	result, err := s.manager.RunCycle(ctx, s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorTypeServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cycleResponse(result))
}

// CycleResponse reports a manual cycle.
type CycleResponse struct {
	manager.CycleResult
	Status string `json:"status"`
}

func cycleResponse(r manager.CycleResult) CycleResponse {
	if r.Entries == nil {
		r.Entries = []journal.Entry{}
	}
	return CycleResponse{CycleResult: r, Status: r.Status()}
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	j := s.manager.Journal()
	if j == nil {
		writeError(w, http.StatusNotFound, ErrorTypeNotFound, "journal is disabled")
		return
	}

	q, err := parseJournalQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error())
		return
	}

	entries, err := j.Query(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorTypeServerError, err.Error())
		return
	}
	total, err := j.Count(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorTypeServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, JournalResponse{Entries: entries, Total: total})
}

func parseJournalQuery(r *http.Request) (journal.Query, error) {
	v := r.URL.Query()
	q := journal.Query{
		Stream: v.Get("stream"),
		RunID:  v.Get("run_id"),
		Kind:   lifecycle.ActionKind(v.Get("kind")),
		Status: journal.Status(v.Get("status")),
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &q.Since}, {"until", &q.Until}} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, fmt.Errorf("invalid %q: %w", p.name, err)
		}
		*p.dst = &t
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &q.Limit}, {"offset", &q.Offset}} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid %q: must be a non-negative integer", p.name)
		}
		*p.dst = n
	}
	return q, nil
}
