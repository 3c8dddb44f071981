package audit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

type Role string

const (
	RoleAnonymous Role = "ANONYMOUS"
	RoleUser      Role = "USER"
	RoleAdmin     Role = "ADMIN"
	RoleSystem    Role = "SYSTEM"
)

type Actor struct {
	Role      Role    `json:"role"`
	UUID      *string `json:"uuid"`
	IPAddress string  `json:"ip_address"`
}

type Target struct {
	Path      string   `json:"path"`
	ObjectIDs []string `json:"object_ids"`
}

type Event struct {
	Origin        string `json:"origin"`
	Status        string `json:"status"`
	DateTime      string `json:"date_time"`
	DateTimeEpoch int64  `json:"date_time_epoch"`
	Actor         Actor  `json:"actor"`
	Operation     string `json:"operation"`
	Target        Target `json:"target"`
}

// Message is the persisted entry body.
type Message struct {
	AuditEvent Event `json:"audit_event"`
}

func NewEvent(origin, status, operation, path string, actor Actor, ids []string, at time.Time) Event {
	if ids == nil {
		ids = []string{}
	}
	return Event{
		Origin:        origin,
		Status:        status,
		DateTime:      at.UTC().Format("2006-01-02T15:04:05.000Z"),
		DateTimeEpoch: at.UnixMilli(),
		Actor:         actor,
		Operation:     operation,
		Target:        Target{Path: path, ObjectIDs: ids},
	}
}

// Operation maps an HTTP method to the logged operation name.
func Operation(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "READ"
	case http.MethodPost:
		return "CREATE"
	case http.MethodPut, http.MethodPatch:
		return "UPDATE"
	case http.MethodDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("Unknown: %s", method)
	}
}

// Status maps a response code to the logged status. The second result is
// false for codes that produce no entry.
func Status(code int) (string, bool) {
	switch {
	case code >= 200 && code < 300:
		return "SUCCESS", true
	case code >= 300 && code < 400:
		return "", false
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "FORBIDDEN", true
	case code >= 400 && code < 600:
		return "", false
	default:
		return fmt.Sprintf("Unknown: %d", code), true
	}
}

// ClientIP prefers the first X-Forwarded-For hop, then the socket peer.
// Ports are dropped from both.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return stripPort(ip)
		}
	}
	return stripPort(r.RemoteAddr)
}

// stripPort leaves bare IPv4 and unbracketed IPv6 addresses unchanged.
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
