package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"time"
)

// Writer persists a serialized audit message.
type Writer interface {
	InsertAuditLogEntry(ctx context.Context, message []byte) error
}

type Options struct {
	Enabled       bool
	EndpointRegex string
	Origin        string
}

type Middleware struct {
	enabled bool
	paths   *regexp.Regexp
	origin  string
	writer  Writer
	logger  *slog.Logger
	now     func() time.Time
}

func NewMiddleware(opts Options, writer Writer, logger *slog.Logger) (*Middleware, error) {
	pattern := opts.EndpointRegex
	if pattern == "" {
		pattern = "^/v1/"
	}
	paths, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Middleware{
		enabled: opts.Enabled && writer != nil,
		paths:   paths,
		origin:  opts.Origin,
		writer:  writer,
		logger:  logger,
		now:     time.Now,
	}, nil
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		collector := NewCollector()
		collector.SetActor(Actor{Role: RoleAnonymous, IPAddress: ClientIP(r)})
		ctx := WithCollector(r.Context(), collector)
		recorder := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(recorder, r.WithContext(ctx))

		if !m.enabled || !m.paths.MatchString(r.URL.Path) {
			return
		}
		// A request abandoned by the client is not logged.
		if ctx.Err() != nil {
			return
		}
		code := recorder.status
		if code == 0 {
			code = http.StatusOK
		}
		status, ok := Status(code)
		if !ok {
			return
		}
		event := NewEvent(m.origin, status, Operation(r.Method), r.URL.Path, collector.Actor(), collector.IDs(), m.now())
		m.write(context.WithoutCancel(ctx), event)
	})
}

func (m *Middleware) write(ctx context.Context, event Event) {
	if err := Write(ctx, m.writer, event); err != nil && m.logger != nil {
		m.logger.Error("audit log write failed", "path", event.Target.Path, "error", err)
	}
}

// Write serializes event and hands it to writer.
func Write(ctx context.Context, writer Writer, event Event) error {
	message, err := json.Marshal(Message{AuditEvent: event})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return writer.InsertAuditLogEntry(ctx, message)
}
