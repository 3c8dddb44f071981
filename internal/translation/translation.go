// Package translation holds per-language text values and the configured
// language set used to validate, merge and resolve them.
package translation

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

var ErrInvalidShape = errors.New("translated field must be an object mapping language codes to strings")

// UnsupportedLanguageError names a language code outside the configured set.
type UnsupportedLanguageError struct {
	Code string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("%s is not a supported language", e.Code)
}

// Text maps a language code to its value. It is stored as a JSONB object.
type Text map[string]string

func (t Text) Value() (driver.Value, error) {
	if t == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(t))
}

func (t *Text) Scan(src any) error {
	var raw []byte
	switch value := src.(type) {
	case nil:
		*t = Text{}
		return nil
	case []byte:
		raw = value
	case string:
		raw = []byte(value)
	default:
		return fmt.Errorf("scan translation: unsupported type %T", src)
	}
	out := Text{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan translation: %w", err)
	}
	*t = out
	return nil
}

// HasContent reports whether any language carries a non-blank value.
func (t Text) HasContent() bool {
	for _, value := range t {
		if strings.TrimSpace(value) != "" {
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (t Text) Clone() Text {
	out := make(Text, len(t))
	for code, value := range t {
		out[code] = value
	}
	return out
}

// Join concatenates the non-empty values in language-code order.
func (t Text) Join(sep string) string {
	codes := make([]string, 0, len(t))
	for code, value := range t {
		if value != "" {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, t[code])
	}
	return strings.Join(parts, sep)
}

// Languages is the configured, ordered set of supported language codes.
type Languages struct {
	codes   []string
	known   map[string]bool
	matcher language.Matcher
}

func NewLanguages(codes []string) (*Languages, error) {
	if len(codes) == 0 {
		return nil, errors.New("at least one language is required")
	}
	tags := make([]language.Tag, 0, len(codes))
	known := make(map[string]bool, len(codes))
	ordered := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.ToLower(strings.TrimSpace(code))
		if code == "" || known[code] {
			continue
		}
		tag, err := language.Parse(code)
		if err != nil {
			return nil, fmt.Errorf("parse language %q: %w", code, err)
		}
		known[code] = true
		ordered = append(ordered, code)
		tags = append(tags, tag)
	}
	return &Languages{codes: ordered, known: known, matcher: language.NewMatcher(tags)}, nil
}

// MustLanguages is NewLanguages for static configuration in tests and tools.
func MustLanguages(codes ...string) *Languages {
	langs, err := NewLanguages(codes)
	if err != nil {
		panic(err)
	}
	return langs
}

func (l *Languages) Codes() []string {
	return append([]string(nil), l.codes...)
}

func (l *Languages) Known(code string) bool {
	return l.known[code]
}

// Parse validates an incoming translated field. A JSON null or missing field
// yields an empty Text.
func (l *Languages) Parse(raw json.RawMessage) (Text, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Text{}, nil
	}
	if trimmed[0] != '{' {
		return nil, ErrInvalidShape
	}
	var values map[string]*string
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return nil, ErrInvalidShape
	}
	out := make(Text, len(values))
	for code, value := range values {
		if !l.known[code] {
			return nil, &UnsupportedLanguageError{Code: code}
		}
		if value == nil {
			out[code] = ""
			continue
		}
		out[code] = *value
	}
	return out, nil
}

// Merge applies incoming values over existing ones. In partial mode languages
// missing from incoming are kept; otherwise they are cleared.
func (l *Languages) Merge(existing, incoming Text, partial bool) (Text, error) {
	for code := range incoming {
		if !l.known[code] {
			return nil, &UnsupportedLanguageError{Code: code}
		}
	}
	out := Text{}
	if partial {
		for code, value := range existing {
			out[code] = value
		}
	}
	for code, value := range incoming {
		out[code] = value
	}
	for code, value := range out {
		if value == "" {
			delete(out, code)
		}
	}
	return out, nil
}

// Resolve picks the value to show for a requested language: the exact
// language, then the closest configured match, then configured order, then
// any non-empty value.
func (l *Languages) Resolve(t Text, requested string) (string, string) {
	if requested != "" {
		if value := t[requested]; value != "" {
			return value, requested
		}
		tag, err := language.Parse(requested)
		if err == nil {
			_, index, confidence := l.matcher.Match(tag)
			if confidence != language.No && index < len(l.codes) {
				code := l.codes[index]
				if value := t[code]; value != "" {
					return value, code
				}
			}
		}
	}
	for _, code := range l.codes {
		if value := t[code]; value != "" {
			return value, code
		}
	}
	rest := make([]string, 0, len(t))
	for code, value := range t {
		if value != "" {
			rest = append(rest, code)
		}
	}
	if len(rest) == 0 {
		return "", ""
	}
	sort.Strings(rest)
	return t[rest[0]], rest[0]
}

// Serialize returns the wire form: every configured language, with an empty
// string where the text has no value.
func (l *Languages) Serialize(t Text) map[string]string {
	out := make(map[string]string, len(l.codes))
	for _, code := range l.codes {
		out[code] = t[code]
	}
	return out
}
