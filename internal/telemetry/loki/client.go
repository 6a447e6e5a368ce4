// Package loki pushes analyzer run events to Grafana Loki.
//
// Streams are labeled by job, pipeline and event type only. The run id travels as structured metadata on each
// entry so a long history of runs does not multiply streams.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"license-usage-analyzer/internal/telemetry"
)

const (
	pushPath       = "/loki/api/v1/push"
	defaultTimeout = 10 * time.Second
)

// JobLabel is the job label of every stream.
const JobLabel = "license-analyzer"

// ErrNoURL is returned when the client has no base URL.
var ErrNoURL = errors.New("loki: base URL is empty")

// labelSanitize replaces characters outside the safe label value set.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// PushRequest is the body of the v1 push API.
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is one label set with its entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values []Entry           `json:"values"`
}

// Entry is one log line. On the wire it is [timestamp_ns, line] or [timestamp_ns, line, metadata].
type Entry struct {
	Timestamp time.Time
	Line      string
	Metadata  map[string]string
}

func (e Entry) MarshalJSON() ([]byte, error) {
	ts := strconv.FormatInt(e.Timestamp.UnixNano(), 10)
	if len(e.Metadata) == 0 {
		return json.Marshal([]string{ts, e.Line})
	}
	return json.Marshal([]any{ts, e.Line, e.Metadata})
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return err
	}
	if len(parts) < 2 {
		return fmt.Errorf("loki: entry has %d elements", len(parts))
	}
	var ts string
	if err := json.Unmarshal(parts[0], &ts); err != nil {
		return err
	}
	ns, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("loki: entry timestamp: %w", err)
	}
	e.Timestamp = time.Unix(0, ns).UTC()
	if err := json.Unmarshal(parts[1], &e.Line); err != nil {
		return err
	}
	e.Metadata = nil
	if len(parts) > 2 {
		return json.Unmarshal(parts[2], &e.Metadata)
	}
	return nil
}

// Client pushes to one Loki instance. It implements telemetry.EventEmitter.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ telemetry.EventEmitter = (*Client)(nil)

// NewClient returns a client for baseURL (e.g. http://localhost:3100). httpClient may be nil.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"), httpClient: httpClient}
}

// Emit pushes one event as a logfmt line.
func (c *Client) Emit(ctx context.Context, event *telemetry.Event) error {
	if event == nil {
		return nil
	}
	return c.Push(ctx, labelsFor(event), entryFor(event))
}

// PushEventJSON pushes a JSON-encoded telemetry.Event, as carried on the progress topic. A value that does not
// decode is pushed verbatim under the job label alone.
func (c *Client) PushEventJSON(ctx context.Context, raw []byte) error {
	var event telemetry.Event
	if err := json.Unmarshal(raw, &event); err != nil || event.EventType == "" {
		return c.Push(ctx, nil, Entry{Timestamp: time.Now().UTC(), Line: string(raw)})
	}
	return c.Emit(ctx, &event)
}

// Push sends entries as a single stream. labels are sanitized and added next to job; blank values are omitted.
func (c *Client) Push(ctx context.Context, labels map[string]string, entries ...Entry) error {
	if c.baseURL == "" {
		return ErrNoURL
	}
	if len(entries) == 0 {
		return nil
	}
	stream := map[string]string{"job": JobLabel}
	for k, v := range labels {
		if v = labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); v != "" {
			stream[k] = v
		}
	}
	payload, err := json.Marshal(PushRequest{Streams: []Stream{{Stream: stream, Values: entries}}})
	if err != nil {
		return fmt.Errorf("loki: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pushPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("loki: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("loki: push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("loki: push returned %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return nil
}

func labelsFor(e *telemetry.Event) map[string]string {
	return map[string]string{"pipeline": e.Pipeline, "event_type": e.EventType}
}

func entryFor(e *telemetry.Event) Entry {
	ts := e.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var meta map[string]string
	if e.RunID != "" {
		meta = map[string]string{"run_id": e.RunID}
	}
	return Entry{Timestamp: ts, Line: formatLine(e), Metadata: meta}
}

// formatLine renders e as logfmt. Zero-valued optional fields are left out.
func formatLine(e *telemetry.Event) string {
	var b strings.Builder
	field := func(k, v string) {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		if v == "" || strings.ContainsAny(v, " \t\"=") {
			v = strconv.Quote(v)
		}
		b.WriteString(v)
	}
	field("event", e.EventType)
	field("run", e.RunID)
	if e.Total > 0 || e.Completed > 0 {
		field("completed", strconv.Itoa(e.Completed))
		field("total", strconv.Itoa(e.Total))
	}
	if e.RawName != "" {
		field("raw", e.RawName)
	}
	if e.NormalizedName != "" {
		field("normalized", e.NormalizedName)
	}
	if e.Message != "" {
		field("msg", e.Message)
	}
	return b.String()
}
