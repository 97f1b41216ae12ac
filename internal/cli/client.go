package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charliek/stackscope/internal/api"
	"github.com/charliek/stackscope/internal/constants"
)

// Client is an HTTP client for the stackscope API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	// Token may not exist when auth is disabled
	token, _ := loadToken()

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: constants.DefaultRequestTimeout,
		},
	}
}

// RecordParams selects records by filter state
type RecordParams struct {
	Severities []string
	Collapse   bool
	Search     string
	Regex      bool
	Limit      int
}

func (p RecordParams) values() url.Values {
	query := url.Values{}
	if len(p.Severities) > 0 {
		query.Set("severity", strings.Join(p.Severities, ","))
	}
	if p.Collapse {
		query.Set("collapse", "true")
	}
	if p.Search != "" {
		query.Set("search", p.Search)
	}
	if p.Regex {
		query.Set("regex", "true")
	}
	if p.Limit > 0 {
		query.Set("limit", strconv.Itoa(p.Limit))
	}
	return query
}

// TreeParams updates the tree view before rows are returned
type TreeParams struct {
	Sort      string
	Ascending bool
	// Search is sent when non-nil; an empty string ends a search
	Search *string
}

func sessionPath(name string, parts ...string) string {
	path := "/api/v1/sessions/" + url.PathEscape(name)
	for _, p := range parts {
		path += "/" + p
	}
	return path
}

func withQuery(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

// GetStatus gets server status
func (c *Client) GetStatus() (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.get("/api/v1/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSessions lists sessions
func (c *Client) GetSessions() (*api.SessionListResponse, error) {
	var resp api.SessionListResponse
	if err := c.get("/api/v1/sessions", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSession gets one session
func (c *Client) GetSession(name string) (*api.SessionResponse, error) {
	var resp api.SessionResponse
	if err := c.get(sessionPath(name), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRecords gets a filtered view of a session's records
func (c *Client) GetRecords(name string, params RecordParams) (*api.RecordsResponse, error) {
	var resp api.RecordsResponse
	if err := c.get(withQuery(sessionPath(name, "records"), params.values()), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddRecord posts a record into a session's store
func (c *Client) AddRecord(name string, req api.RecordRequest) (*api.RecordResponse, error) {
	var resp api.RecordResponse
	if err := c.post(sessionPath(name, "records"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SelectRecord marks a record as the session's selection
func (c *Client) SelectRecord(name string, seq int) (*api.RecordResponse, error) {
	var resp api.RecordResponse
	if err := c.post(sessionPath(name, "records", strconv.Itoa(seq), "select"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTree gets the visible tree rows
func (c *Client) GetTree(name string, params TreeParams) (*api.TreeResponse, error) {
	query := url.Values{}
	if params.Sort != "" {
		query.Set("sort", params.Sort)
		if params.Ascending {
			query.Set("order", "asc")
		}
	}
	if params.Search != nil {
		query.Set("search", *params.Search)
	}

	var resp api.TreeResponse
	if err := c.get(withQuery(sessionPath(name, "tree"), query), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetExpanded expands or collapses a tree node
func (c *Client) SetExpanded(name string, id int, expanded bool) error {
	action := "collapse"
	if expanded {
		action = "expand"
	}
	var resp api.SuccessResponse
	return c.post(sessionPath(name, "tree", "nodes", strconv.Itoa(id), action), nil, &resp)
}

// Clear empties a session's store
func (c *Client) Clear(name string) error {
	var resp api.SuccessResponse
	return c.post(sessionPath(name, "clear"), nil, &resp)
}

// Send sends a record to a session's transport peer
func (c *Client) Send(name string, req api.RecordRequest) error {
	var resp api.SuccessResponse
	return c.post(sessionPath(name, "send"), req, &resp)
}

// Export copies a session's text export to w. Zero params export the full
// history.
func (c *Client) Export(name string, params RecordParams, w io.Writer) error {
	params.Limit = 0
	req, err := http.NewRequest("GET", c.baseURL+withQuery(sessionPath(name, "export"), params.values()), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.addAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// Shutdown asks the server to stop
func (c *Client) Shutdown() error {
	var resp api.SuccessResponse
	return c.post("/api/v1/shutdown", nil, &resp)
}

// StreamRecords follows new records until ctx is done or the server ends
// the stream
func (c *Client) StreamRecords(ctx context.Context, name string, params RecordParams, callback func(api.RecordResponse)) error {
	params.Limit = 0
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+withQuery(sessionPath(name, "stream"), params.values()), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.addAuthHeader(req)

	// The stream outlives the request timeout
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var record api.RecordResponse
			if err := json.Unmarshal([]byte(data), &record); err == nil {
				callback(record)
			}
		}
	}
}

func (c *Client) get(path string, v interface{}) error {
	req, err := http.NewRequest("GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, v)
}

func (c *Client) post(path string, body, v interface{}) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest("POST", c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, v)
}

func (c *Client) do(req *http.Request, v interface{}) error {
	c.addAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	var errResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Code != "" {
		return fmt.Errorf("%s: %s", errResp.Code, errResp.Error)
	}
	return fmt.Errorf("request failed with status %d", resp.StatusCode)
}

// addAuthHeader adds the Authorization header if a token is available
func (c *Client) addAuthHeader(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// waitReady polls the status endpoint until the server answers or the
// timeout passes
func (c *Client) waitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		_, err := c.GetStatus()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
}
