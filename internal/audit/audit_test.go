package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []Message
}

func (f *fakeWriter) InsertAuditLogEntry(_ context.Context, message []byte) error {
	var decoded Message
	if err := json.Unmarshal(message, &decoded); err != nil {
		return err
	}
	f.mu.Lock()
	f.messages = append(f.messages, decoded)
	f.mu.Unlock()
	return nil
}

type record struct{ id string }

func (r record) AuditID() string { return r.id }

func newTestMiddleware(t *testing.T, writer Writer) *Middleware {
	t.Helper()
	m, err := NewMiddleware(Options{Enabled: true, EndpointRegex: "^/v1/", Origin: "kerrokantasi"}, writer, nil)
	if err != nil {
		t.Fatalf("NewMiddleware() error = %v", err)
	}
	m.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		code   int
		status string
		logged bool
	}{
		{200, "SUCCESS", true},
		{204, "SUCCESS", true},
		{304, "", false},
		{401, "FORBIDDEN", true},
		{403, "FORBIDDEN", true},
		{404, "", false},
		{500, "", false},
		{101, "Unknown: 101", true},
	}
	for _, tc := range cases {
		status, logged := Status(tc.code)
		if status != tc.status || logged != tc.logged {
			t.Fatalf("Status(%d) = %q %v, want %q %v", tc.code, status, logged, tc.status, tc.logged)
		}
	}
}

func TestOperationMapping(t *testing.T) {
	cases := map[string]string{
		http.MethodGet:     "READ",
		http.MethodHead:    "READ",
		http.MethodOptions: "READ",
		http.MethodPost:    "CREATE",
		http.MethodPut:     "UPDATE",
		http.MethodPatch:   "UPDATE",
		http.MethodDelete:  "DELETE",
		http.MethodTrace:   "Unknown: TRACE",
		"PROPFIND":         "Unknown: PROPFIND",
	}
	for method, want := range cases {
		if got := Operation(method); got != want {
			t.Fatalf("Operation(%q) = %q, want %q", method, got, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{name: "remote ipv4 with port", remoteAddr: "10.0.0.7:41000", want: "10.0.0.7"},
		{name: "remote ipv6 with port", remoteAddr: "[2001:db8::7]:41000", want: "2001:db8::7"},
		{name: "forwarded bare ipv4", forwarded: "1.2.3.4, 10.0.0.1", remoteAddr: "10.0.0.1:80", want: "1.2.3.4"},
		{name: "forwarded ipv4 with port", forwarded: "1.2.3.4:5678", remoteAddr: "10.0.0.1:80", want: "1.2.3.4"},
		{name: "forwarded ipv6 with port", forwarded: "[2001:db8::1]:443, 10.0.0.1", remoteAddr: "10.0.0.1:80", want: "2001:db8::1"},
		{name: "forwarded bare ipv6", forwarded: "2001:db8::1", remoteAddr: "10.0.0.1:80", want: "2001:db8::1"},
		{name: "blank forwarded falls back", forwarded: " ,1.2.3.4", remoteAddr: "10.0.0.1:80", want: "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/hearing", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := ClientIP(r); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestMiddlewareWritesCollectedIDs(t *testing.T) {
	writer := &fakeWriter{}
	m := newTestMiddleware(t, writer)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := "6a1c2b3d-0000-4000-8000-000000000001"
		SetActor(r.Context(), Actor{Role: RoleUser, UUID: &userID, IPAddress: ClientIP(r)})
		Track(r.Context(), record{id: "h1"}, record{id: ""}, record{id: "s1"})
		TrackIDs(r.Context(), "h1", "c1")
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/hearing/h1/sections/s1/comments/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(writer.messages) != 1 {
		t.Fatalf("expected one entry, got %d", len(writer.messages))
	}
	event := writer.messages[0].AuditEvent
	if event.Status != "SUCCESS" || event.Operation != "CREATE" || event.Origin != "kerrokantasi" {
		t.Fatalf("unexpected event %+v", event)
	}
	if got := event.Target.ObjectIDs; len(got) != 3 || got[0] != "h1" || got[1] != "s1" || got[2] != "c1" {
		t.Fatalf("unexpected object ids %v", got)
	}
	if event.Actor.Role != RoleUser || event.Actor.IPAddress != "203.0.113.9" {
		t.Fatalf("unexpected actor %+v", event.Actor)
	}
	if event.DateTime != "2024-05-01T12:00:00.000Z" {
		t.Fatalf("unexpected date_time %q", event.DateTime)
	}
}

func TestMiddlewareSkipsUnmatchedAndUnloggedResponses(t *testing.T) {
	writer := &fakeWriter{}
	m := newTestMiddleware(t, writer)
	notFound := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	notFound.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/hearing/x/", nil))

	ok := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin/", nil))

	if len(writer.messages) != 0 {
		t.Fatalf("expected no entries, got %d", len(writer.messages))
	}
}

func TestMiddlewareAnonymousForbidden(t *testing.T) {
	writer := &fakeWriter{}
	m := newTestMiddleware(t, writer)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	req := httptest.NewRequest(http.MethodDelete, "/v1/comment/c1/", nil)
	req.RemoteAddr = "198.51.100.4:5555"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(writer.messages) != 1 {
		t.Fatalf("expected one entry, got %d", len(writer.messages))
	}
	event := writer.messages[0].AuditEvent
	if event.Status != "FORBIDDEN" || event.Actor.Role != RoleAnonymous || event.Actor.UUID != nil {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Actor.IPAddress != "198.51.100.4" || len(event.Target.ObjectIDs) != 0 {
		t.Fatalf("unexpected actor or ids %+v", event)
	}
}

func TestMiddlewareDisabledStillCollects(t *testing.T) {
	writer := &fakeWriter{}
	m, err := NewMiddleware(Options{Enabled: false}, writer, nil)
	if err != nil {
		t.Fatalf("NewMiddleware() error = %v", err)
	}
	var seen []string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		TrackIDs(r.Context(), "a")
		seen = FromContext(r.Context()).IDs()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/hearing/", nil))
	if len(seen) != 1 || len(writer.messages) != 0 {
		t.Fatalf("unexpected collection %v / %d entries", seen, len(writer.messages))
	}
}

func TestTrackWithoutCollectorIsNoop(t *testing.T) {
	Track(context.Background(), record{id: "x"})
	TrackIDs(context.Background(), "y")
	SetActor(context.Background(), Actor{Role: RoleUser})
}
