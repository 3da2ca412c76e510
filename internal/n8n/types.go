package n8n

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ID accepts both string and numeric identifiers; older n8n releases
// serialize ids as numbers.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Tags accepts either plain strings or {id, name} objects.
type Tags []string

func (t *Tags) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			*t = nil
			return nil
		}
		return err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(item, &obj); err == nil && strings.TrimSpace(obj.Name) != "" {
			out = append(out, strings.TrimSpace(obj.Name))
		}
	}
	*t = out
	return nil
}

type Workflow struct {
	ID         ID                `json:"id"`
	Name       string            `json:"name"`
	Active     bool              `json:"active"`
	IsArchived bool              `json:"isArchived"`
	Tags       Tags              `json:"tags"`
	Nodes      []json.RawMessage `json:"nodes"`
	CreatedAt  *time.Time        `json:"createdAt"`
	UpdatedAt  *time.Time        `json:"updatedAt"`
}

type WorkflowPage struct {
	Data       []Workflow `json:"data"`
	NextCursor string     `json:"nextCursor"`
}

type Execution struct {
	ID             ID              `json:"id"`
	Finished       bool            `json:"finished"`
	Mode           string          `json:"mode"`
	RetryOf        ID              `json:"retryOf"`
	RetrySuccessID ID              `json:"retrySuccessId"`
	StartedAt      time.Time       `json:"startedAt"`
	StoppedAt      *time.Time      `json:"stoppedAt"`
	WaitTill       *time.Time      `json:"waitTill"`
	WorkflowID     ID              `json:"workflowId"`
	Status         string          `json:"status"`
	Data           json.RawMessage `json:"data,omitempty"`
	WorkflowData   json.RawMessage `json:"workflowData,omitempty"`
	CustomData     json.RawMessage `json:"customData,omitempty"`
}

// DurationMillis returns the wall time of a stopped execution.
func (e Execution) DurationMillis() *int64 {
	if e.StoppedAt == nil || e.StartedAt.IsZero() {
		return nil
	}
	d := e.StoppedAt.Sub(e.StartedAt).Milliseconds()
	if d < 0 {
		d = 0
	}
	return &d
}

// NormalizedStatus fills in the status for releases that only report the
// finished flag.
func (e Execution) NormalizedStatus() string {
	status := strings.ToLower(strings.TrimSpace(e.Status))
	switch status {
	case "success", "error", "crashed", "canceled", "running", "waiting", "new", "unknown":
		return status
	case "cancelled":
		return "canceled"
	case "failed":
		return "error"
	}
	switch {
	case e.WaitTill != nil:
		return "waiting"
	case e.Finished:
		return "success"
	case e.StoppedAt != nil:
		return "error"
	default:
		return "running"
	}
}

type ExecutionPage struct {
	Data       []Execution `json:"data"`
	NextCursor string      `json:"nextCursor"`
}

// ListWorkflowsParams controls a single page request.
type ListWorkflowsParams struct {
	Limit  int
	Cursor string
	Active *bool
}

// ListExecutionsParams controls a single page request.
type ListExecutionsParams struct {
	WorkflowID  string
	Status      string
	IncludeData bool
	Limit       int
	Cursor      string
}

// ProbeResult summarizes a successful connection test.
type ProbeResult struct {
	WorkflowCount int    `json:"workflowCount"`
	Version       string `json:"version"`
	InstanceID    string `json:"instanceId"`
	URL           string `json:"url"`
	AuthMode      string `json:"authMode"`
	InternalAPI   bool   `json:"internalApi"`
}

func itoa(n int) string { return strconv.Itoa(n) }
