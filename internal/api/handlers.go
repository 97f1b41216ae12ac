package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/charliek/stackscope/internal/analysis"
	"github.com/charliek/stackscope/internal/constants"
	"github.com/charliek/stackscope/internal/domain"
	"github.com/charliek/stackscope/internal/session"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	registry   *session.Registry
	configFile string
	shutdownFn func()
	displayCap int
	started    time.Time
}

// NewHandlers creates new HTTP handlers
func NewHandlers(reg *session.Registry, configFile string, shutdownFn func()) *Handlers {
	return &Handlers{
		registry:   reg,
		configFile: configFile,
		shutdownFn: shutdownFn,
		displayCap: constants.DefaultDisplayCap,
		started:    time.Now(),
	}
}

// WithDisplayCap sets the counter value above which display counts saturate
func (h *Handlers) WithDisplayCap(limit int) *Handlers {
	h.displayCap = limit
	return h
}

// GetStatus handles GET /api/v1/status
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:        "running",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		ConfigFile:    h.configFile,
		APIVersion:    "v1",
		Sessions:      h.registry.Len(),
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetSessions handles GET /api/v1/sessions
func (h *Handlers) GetSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.Sessions()

	resp := SessionListResponse{
		Sessions: make([]SessionResponse, len(sessions)),
	}
	for i, s := range sessions {
		resp.Sessions[i] = ToSessionResponse(s.Status(), h.displayCap)
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetSession handles GET /api/v1/sessions/{name}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ToSessionResponse(s.Status(), h.displayCap))
}

// GetRecords handles GET /api/v1/sessions/{name}/records
func (h *Handlers) GetRecords(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	state, err := parseFilterState(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit := parseLimit(r)
	force := r.URL.Query().Get("force") == "true"

	store := s.Store()
	items := store.Items(state, force)
	filtered := len(items)
	if len(items) > limit {
		items = items[len(items)-limit:]
	}

	resp := RecordsResponse{
		Records:       make([]RecordResponse, len(items)),
		FilteredCount: filtered,
		TotalCount:    store.Len(),
		Counts:        ToCountsResponse(store.Counts(), h.displayCap),
		Filter:        state,
	}
	for i, item := range items {
		resp.Records[i] = ToRecordResponse(item.Record, item.Count)
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddRecord handles POST /api/v1/sessions/{name}/records.
// It is the entry point for in-process hooks that post records directly.
func (h *Handlers) AddRecord(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	req, severity, err := decodeRecordRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	record, err := s.Store().Add(req.Message, req.Stack, severity)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ToRecordResponse(record, s.Store().Occurrences(record.Key())))
}

// GetRecord handles GET /api/v1/sessions/{name}/records/{seq}
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	seq, ok := intParam(w, r, "seq")
	if !ok {
		return
	}

	record, err := s.Store().Record(seq)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToRecordResponse(record, s.Store().Occurrences(record.Key())))
}

// SelectRecord handles POST /api/v1/sessions/{name}/records/{seq}/select
func (h *Handlers) SelectRecord(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	seq, ok := intParam(w, r, "seq")
	if !ok {
		return
	}

	record, err := s.Store().Select(seq)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToRecordResponse(record, s.Store().Occurrences(record.Key())))
}

// GetSelected handles GET /api/v1/sessions/{name}/selected
func (h *Handlers) GetSelected(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	record, ok := s.Store().Selected()
	if !ok {
		writeError(w, fmt.Errorf("no record selected: %w", domain.ErrRecordNotFound))
		return
	}
	writeJSON(w, http.StatusOK, ToRecordResponse(record, s.Store().Occurrences(record.Key())))
}

// GetFrameSource handles GET /api/v1/sessions/{name}/records/{seq}/frames/{frame}/source
func (h *Handlers) GetFrameSource(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	seq, ok := intParam(w, r, "seq")
	if !ok {
		return
	}
	frame, ok := intParam(w, r, "frame")
	if !ok {
		return
	}

	path, line, available, err := s.Store().Source(seq, frame)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SourceResponse{Path: path, Line: line, Available: available})
}

// GetCounts handles GET /api/v1/sessions/{name}/counts
func (h *Handlers) GetCounts(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ToCountsResponse(s.Store().Counts(), h.displayCap))
}

// ClearSession handles POST /api/v1/sessions/{name}/clear
func (h *Handlers) ClearSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Store().Clear()
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// GetTree handles GET /api/v1/sessions/{name}/tree.
// Optional sort, order and search parameters update the tree's view state
// before the rows are returned.
func (h *Handlers) GetTree(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	var column analysis.Column
	sortBy := query.Get("sort")
	if sortBy != "" {
		var valid bool
		column, valid = analysis.ParseColumn(sortBy)
		if !valid {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: fmt.Sprintf("unknown sort column %q", sortBy),
				Code:  domain.ErrCodeInvalidRequest,
			})
			return
		}
	}
	ascending := query.Get("order") == "asc"
	_, hasSearch := query["search"]
	search := query.Get("search")

	var resp TreeResponse
	_ = s.Store().WithTree(func(t *analysis.Tree) error {
		if sortBy != "" {
			t.Sort(column, ascending)
		}
		if hasSearch {
			t.Search(search)
		}

		rows := t.Rows()
		resp = TreeResponse{
			Total:  t.Total(),
			Search: t.SearchText(),
			Rows:   make([]TreeRowResponse, len(rows)),
		}
		for i, row := range rows {
			resp.Rows[i] = ToTreeRowResponse(row)
		}
		return nil
	})

	writeJSON(w, http.StatusOK, resp)
}

// GetNode handles GET /api/v1/sessions/{name}/tree/nodes/{id}
func (h *Handlers) GetNode(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}

	var node analysis.Node
	err := s.Store().WithTree(func(t *analysis.Tree) error {
		var err error
		node, err = t.Node(analysis.NodeID(id))
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToNodeResponse(node))
}

// ExpandNode handles POST /api/v1/sessions/{name}/tree/nodes/{id}/expand
func (h *Handlers) ExpandNode(w http.ResponseWriter, r *http.Request) {
	h.setExpanded(w, r, true)
}

// CollapseNode handles POST /api/v1/sessions/{name}/tree/nodes/{id}/collapse
func (h *Handlers) CollapseNode(w http.ResponseWriter, r *http.Request) {
	h.setExpanded(w, r, false)
}

func (h *Handlers) setExpanded(w http.ResponseWriter, r *http.Request, expanded bool) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}

	err := s.Store().WithTree(func(t *analysis.Tree) error {
		return t.SetExpanded(analysis.NodeID(id), expanded)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// GetNodeSource handles GET /api/v1/sessions/{name}/tree/nodes/{id}/source
func (h *Handlers) GetNodeSource(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}

	var resp SourceResponse
	err := s.Store().WithTree(func(t *analysis.Tree) error {
		path, line, available, err := t.Source(analysis.NodeID(id))
		resp = SourceResponse{Path: path, Line: line, Available: available}
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ExportRecords handles GET /api/v1/sessions/{name}/export. Without filter
// parameters the full history is exported.
func (h *Handlers) ExportRecords(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var state *domain.FilterState
	if hasFilterParams(r) {
		parsed, err := parseFilterState(r)
		if err != nil {
			writeError(w, err)
			return
		}
		state = &parsed
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.Name()+".log"))
	if err := s.Store().Export(w, state); err != nil {
		slog.Warn("export failed", "session", s.Name(), "error", err)
	}
}

// SendRecord handles POST /api/v1/sessions/{name}/send
func (h *Handlers) SendRecord(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	req, severity, err := decodeRecordRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.Send(req.Message, req.Stack, severity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Shutdown handles POST /api/v1/shutdown
func (h *Handlers) Shutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})

	// Trigger shutdown asynchronously
	go func() {
		time.Sleep(100 * time.Millisecond) // Let response complete
		if h.shutdownFn != nil {
			h.shutdownFn()
		}
	}()
}

func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.registry.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return s, true
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := chi.URLParam(r, name)
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid %s %q", name, raw),
			Code:  domain.ErrCodeInvalidRequest,
		})
		return 0, false
	}
	return n, true
}

var filterParams = []string{"severity", "collapse", "search", "regex"}

func hasFilterParams(r *http.Request) bool {
	query := r.URL.Query()
	for _, p := range filterParams {
		if _, ok := query[p]; ok {
			return true
		}
	}
	return false
}

// parseFilterState extracts a FilterState from query parameters.
// severity is a comma separated list; when absent every severity is shown.
func parseFilterState(r *http.Request) (domain.FilterState, error) {
	query := r.URL.Query()
	state := domain.DefaultFilterState()

	if severities := query.Get("severity"); severities != "" {
		if err := state.SetSeverities(strings.Split(severities, ",")); err != nil {
			return state, err
		}
	}

	state.Collapse = query.Get("collapse") == "true"
	state.SearchText = query.Get("search")
	state.UseRegex = query.Get("regex") == "true"

	return state, nil
}

// parseLimit reads the record limit (default 100, max 10000 to prevent DoS)
func parseLimit(r *http.Request) int {
	limit := constants.DefaultRecordLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 {
			limit = min(l, constants.MaxRecordLimit)
		}
	}
	return limit
}

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func decodeRecordRequest(w http.ResponseWriter, r *http.Request) (RecordRequest, domain.Severity, error) {
	var req RecordRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		return req, domain.SeverityUnknown, invalidRequestError{msg: "invalid request body: " + err.Error()}
	}

	severity := domain.SeverityInfo
	if req.Severity != "" {
		severity = domain.ParseSeverity(req.Severity)
		if !severity.Valid() {
			return req, severity, fmt.Errorf("%w: %q", domain.ErrInvalidSeverity, req.Severity)
		}
	}
	return req, severity, nil
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

// writeError writes an error response
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := domain.ErrorCode(err)
	message := "an internal error occurred"

	var invalid invalidRequestError
	switch {
	case errors.As(err, &invalid):
		status = http.StatusBadRequest
		code = domain.ErrCodeInvalidRequest
		message = err.Error()
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrRecordNotFound),
		errors.Is(err, domain.ErrNodeNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, domain.ErrInvalidSeverity),
		errors.Is(err, domain.ErrNoTransport):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, domain.ErrNotConnected):
		status = http.StatusConflict
		message = err.Error()
	default:
		// For unknown errors, log the actual error but return a sanitized message
		// to avoid leaking internal paths or sensitive information
		slog.Error("internal error", "error", err)
	}

	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
