package api

import (
	"github.com/charliek/stackscope/internal/analysis"
	"github.com/charliek/stackscope/internal/domain"
	"github.com/charliek/stackscope/internal/logs"
	"github.com/charliek/stackscope/internal/session"
)

// StatusResponse represents the response for GET /status
type StatusResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	ConfigFile    string `json:"config_file,omitempty"`
	APIVersion    string `json:"api_version"`
	Sessions      int    `json:"sessions"`
}

// SessionListResponse represents the response for GET /sessions
type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// SessionResponse describes one session
type SessionResponse struct {
	Name        string                  `json:"name"`
	Kind        string                  `json:"kind"`
	Format      string                  `json:"format"`
	Running     bool                    `json:"running"`
	Records     int                     `json:"records"`
	Distinct    int                     `json:"distinct"`
	Dropped     int64                   `json:"dropped"`
	Subscribers int                     `json:"subscribers"`
	Counts      CountsResponse          `json:"counts"`
	Transport   *session.TransportState `json:"transport,omitempty"`
	LastError   string                  `json:"last_error,omitempty"`
}

// CountsResponse holds unbounded counters plus their capped display form
type CountsResponse struct {
	Info    int               `json:"info"`
	Warning int               `json:"warning"`
	Error   int               `json:"error"`
	Total   int               `json:"total"`
	Display map[string]string `json:"display"`
}

// RecordsResponse represents the response for GET /sessions/{name}/records
type RecordsResponse struct {
	Records       []RecordResponse   `json:"records"`
	FilteredCount int                `json:"filtered_count"`
	TotalCount    int                `json:"total_count"`
	Counts        CountsResponse     `json:"counts"`
	Filter        domain.FilterState `json:"filter"`
}

// RecordResponse represents a single log record
type RecordResponse struct {
	Seq      int                 `json:"seq"`
	Severity string              `json:"severity"`
	Message  string              `json:"message"`
	RawStack string              `json:"raw_stack,omitempty"`
	Frames   []domain.StackFrame `json:"frames,omitempty"`
	Extra    string              `json:"extra,omitempty"`
	Count    int                 `json:"count"`
	Selected bool                `json:"selected,omitempty"`
}

// RecordRequest is the body of record ingest and send requests
type RecordRequest struct {
	Message  string `json:"message"`
	Stack    string `json:"stack,omitempty"`
	Severity string `json:"severity"`
}

// SourceResponse is a jump-to-source location
type SourceResponse struct {
	Path      string `json:"path"`
	Line      int    `json:"line"`
	Available bool   `json:"available"`
}

// TreeResponse represents the visible rows of the aggregation tree
type TreeResponse struct {
	Total  int               `json:"total"`
	Search string            `json:"search,omitempty"`
	Rows   []TreeRowResponse `json:"rows"`
}

// TreeRowResponse is one visible tree row
type TreeRowResponse struct {
	ID       int    `json:"id"`
	Depth    int    `json:"depth"`
	Label    string `json:"label"`
	Leaf     bool   `json:"leaf"`
	Expanded bool   `json:"expanded"`
	Total    int    `json:"total"`
	Info     int    `json:"info"`
	Warning  int    `json:"warning"`
	Error    int    `json:"error"`
}

// NodeResponse represents one tree node
type NodeResponse struct {
	ID       int               `json:"id"`
	Parent   int               `json:"parent"`
	Depth    int               `json:"depth"`
	Label    string            `json:"label"`
	Unknown  bool              `json:"unknown,omitempty"`
	Frame    domain.StackFrame `json:"frame"`
	Columns  analysis.Columns  `json:"columns"`
	Expanded bool              `json:"expanded"`
	Visible  bool              `json:"visible"`
	Children []analysis.NodeID `json:"children"`
}

// SuccessResponse represents a simple success response
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ToSessionResponse converts a session status to a SessionResponse
func ToSessionResponse(st session.Status, displayCap int) SessionResponse {
	return SessionResponse{
		Name:        st.Name,
		Kind:        string(st.Kind),
		Format:      st.Format,
		Running:     st.Running,
		Records:     st.Records,
		Distinct:    st.Distinct,
		Dropped:     st.Dropped,
		Subscribers: st.Subscribers,
		Counts:      ToCountsResponse(st.Counts, displayCap),
		Transport:   st.Transport,
		LastError:   st.LastError,
	}
}

// ToCountsResponse converts counters, rendering capped display values
func ToCountsResponse(c domain.Counts, displayCap int) CountsResponse {
	return CountsResponse{
		Info:    c.Info,
		Warning: c.Warning,
		Error:   c.Error,
		Total:   c.Total(),
		Display: map[string]string{
			domain.SeverityInfo.String():    logs.DisplayCount(c.Info, displayCap),
			domain.SeverityWarning.String(): logs.DisplayCount(c.Warning, displayCap),
			domain.SeverityError.String():   logs.DisplayCount(c.Error, displayCap),
		},
	}
}

// ToRecordResponse converts a log record with its occurrence count
func ToRecordResponse(r domain.LogRecord, count int) RecordResponse {
	return RecordResponse{
		Seq:      r.Seq,
		Severity: r.Severity.String(),
		Message:  r.Message,
		RawStack: r.RawStack,
		Frames:   r.Frames,
		Extra:    r.Extra,
		Count:    count,
		Selected: r.Selected,
	}
}

// ToTreeRowResponse converts a tree row
func ToTreeRowResponse(row analysis.Row) TreeRowResponse {
	return TreeRowResponse{
		ID:       int(row.ID),
		Depth:    row.Depth,
		Label:    row.Label,
		Leaf:     row.Leaf,
		Expanded: row.Expanded,
		Total:    row.Columns.Total,
		Info:     row.Columns.Info,
		Warning:  row.Columns.Warning,
		Error:    row.Columns.Error,
	}
}

// ToNodeResponse converts a tree node
func ToNodeResponse(n analysis.Node) NodeResponse {
	children := n.Children
	if children == nil {
		children = []analysis.NodeID{}
	}
	return NodeResponse{
		ID:      int(n.ID),
		Parent:  int(n.Parent),
		Depth:   n.Depth,
		Label:   n.Label(),
		Unknown: n.Unknown,
		Frame:   n.Frame,
		Columns: analysis.Columns{
			Total:   n.Counts.Total(),
			Info:    n.Counts.Info,
			Warning: n.Counts.Warning,
			Error:   n.Counts.Error,
		},
		Expanded: n.Expanded,
		Visible:  n.Visible,
		Children: children,
	}
}
