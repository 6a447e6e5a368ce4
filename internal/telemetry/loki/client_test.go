package loki

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"license-usage-analyzer/internal/telemetry"
)

type captured struct {
	mu    sync.Mutex
	path  string
	calls int
	body  PushRequest
}

func (c *captured) stream(t *testing.T) Stream {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.body.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(c.body.Streams))
	}
	return c.body.Streams[0]
}

func newLokiServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.path = r.URL.Path
		c.calls++
		c.body = PushRequest{}
		if err := json.Unmarshal(raw, &c.body); err != nil {
			t.Errorf("decode push body: %v", err)
		}
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestEmit_LabelsLineAndMetadata(t *testing.T) {
	srv, c := newLokiServer(t, http.StatusNoContent)
	created := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	event := &telemetry.Event{
		RunID:          "run-1",
		Pipeline:       "installations",
		EventType:      telemetry.EventRowNormalized,
		Completed:      3,
		Total:          10,
		RawName:        "Visio Pro 2019",
		NormalizedName: "Visio",
		CreatedAt:      created,
	}

	if err := NewClient(srv.URL+"/", nil).Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if c.path != "/loki/api/v1/push" {
		t.Errorf("path = %q", c.path)
	}
	s := c.stream(t)
	want := map[string]string{"job": JobLabel, "pipeline": "installations", "event_type": "row_normalized"}
	if len(s.Stream) != len(want) {
		t.Errorf("labels = %v, want %v", s.Stream, want)
	}
	for k, v := range want {
		if s.Stream[k] != v {
			t.Errorf("label %s = %q, want %q", k, s.Stream[k], v)
		}
	}
	if len(s.Values) != 1 {
		t.Fatalf("values = %+v", s.Values)
	}
	entry := s.Values[0]
	if !entry.Timestamp.Equal(created) {
		t.Errorf("timestamp = %v, want %v", entry.Timestamp, created)
	}
	wantLine := `event=row_normalized run=run-1 completed=3 total=10 raw="Visio Pro 2019" normalized=Visio`
	if entry.Line != wantLine {
		t.Errorf("line = %q\nwant %q", entry.Line, wantLine)
	}
	if entry.Metadata["run_id"] != "run-1" {
		t.Errorf("metadata = %v, want run_id", entry.Metadata)
	}
}

func TestFormatLine(t *testing.T) {
	testCases := []struct {
		name  string
		event telemetry.Event
		want  string
	}{
		{"lifecycle", telemetry.Event{EventType: "run_started", RunID: "r"}, "event=run_started run=r"},
		{"message quoted", telemetry.Event{EventType: "run_failed", RunID: "r", Message: `rows "bad"`}, `event=run_failed run=r msg="rows \"bad\""`},
		{"empty run id", telemetry.Event{EventType: "session_dropped", RawName: "s3"}, `event=session_dropped run="" raw=s3`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := formatLine(&tc.event); got != tc.want {
				t.Errorf("formatLine = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPushEventJSON_DecodesEvent(t *testing.T) {
	srv, c := newLokiServer(t, http.StatusNoContent)
	raw := []byte(`{"runId":"run-2","pipeline":"sessions","eventType":"session_dropped","rawName":"s3","createdAt":"2024-06-01T10:00:00Z"}`)

	if err := NewClient(srv.URL, nil).PushEventJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	s := c.stream(t)
	if s.Stream["event_type"] != "session_dropped" || s.Stream["pipeline"] != "sessions" {
		t.Errorf("labels = %v", s.Stream)
	}
	if _, ok := s.Stream["run_id"]; ok {
		t.Error("run id must not be a label")
	}
	if s.Values[0].Line != "event=session_dropped run=run-2 raw=s3" {
		t.Errorf("line = %q", s.Values[0].Line)
	}
	if !s.Values[0].Timestamp.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", s.Values[0].Timestamp)
	}
}

func TestPushEventJSON_UndecodableValuePushedVerbatim(t *testing.T) {
	srv, c := newLokiServer(t, http.StatusNoContent)
	if err := NewClient(srv.URL, nil).PushEventJSON(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	s := c.stream(t)
	if len(s.Stream) != 1 || s.Stream["job"] != JobLabel {
		t.Errorf("labels = %v, want only job", s.Stream)
	}
	if s.Values[0].Line != "not json" || s.Values[0].Metadata != nil {
		t.Errorf("entry = %+v", s.Values[0])
	}
}

func TestPush_SanitizesLabels(t *testing.T) {
	srv, c := newLokiServer(t, http.StatusNoContent)
	labels := map[string]string{"pipeline": " weird value/with*chars ", "empty": "   "}
	if err := NewClient(srv.URL, nil).Push(context.Background(), labels, Entry{Timestamp: time.Now(), Line: "line"}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	s := c.stream(t)
	if s.Stream["pipeline"] != "weird_value_with_chars" {
		t.Errorf("pipeline label = %q", s.Stream["pipeline"])
	}
	if _, ok := s.Stream["empty"]; ok {
		t.Error("blank label should be omitted")
	}
}

func TestPush_Errors(t *testing.T) {
	entry := Entry{Timestamp: time.Now(), Line: "x"}
	if err := NewClient("", nil).Push(context.Background(), nil, entry); !errors.Is(err, ErrNoURL) {
		t.Errorf("err = %v, want ErrNoURL", err)
	}
	srv, c := newLokiServer(t, http.StatusBadRequest)
	if err := NewClient(srv.URL, nil).Push(context.Background(), nil, entry); err == nil {
		t.Error("non-2xx should fail")
	}
	if err := NewClient(srv.URL, nil).Push(context.Background(), nil); err != nil {
		t.Errorf("no entries: %v", err)
	}
	if c.calls != 1 {
		t.Errorf("calls = %d, want 1 (empty push sends nothing)", c.calls)
	}
}

func TestEntry_JSONShape(t *testing.T) {
	ts := time.Unix(0, 1717236000000000000).UTC()
	plain, err := json.Marshal(Entry{Timestamp: ts, Line: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != `["1717236000000000000","a"]` {
		t.Errorf("plain = %s", plain)
	}
	withMeta, err := json.Marshal(Entry{Timestamp: ts, Line: "a", Metadata: map[string]string{"run_id": "r"}})
	if err != nil {
		t.Fatal(err)
	}
	if string(withMeta) != `["1717236000000000000","a",{"run_id":"r"}]` {
		t.Errorf("with metadata = %s", withMeta)
	}
}
