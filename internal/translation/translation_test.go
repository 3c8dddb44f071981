package translation

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseRejectsUnknownLanguage(t *testing.T) {
	langs := MustLanguages("fi", "sv", "en")
	_, err := langs.Parse(json.RawMessage(`{"fi":"Otsikko","de":"Titel"}`))
	var unsupported *UnsupportedLanguageError
	if !errors.As(err, &unsupported) || unsupported.Code != "de" {
		t.Fatalf("expected unsupported language de, got %v", err)
	}
}

func TestParseRejectsWrongShape(t *testing.T) {
	langs := MustLanguages("fi")
	for _, raw := range []string{`"plain"`, `["fi"]`, `{"fi":3}`} {
		if _, err := langs.Parse(json.RawMessage(raw)); !errors.Is(err, ErrInvalidShape) {
			t.Fatalf("expected invalid shape for %s, got %v", raw, err)
		}
	}
}

func TestParseNullIsEmpty(t *testing.T) {
	langs := MustLanguages("fi")
	text, err := langs.Parse(json.RawMessage(`null`))
	if err != nil || len(text) != 0 {
		t.Fatalf("expected empty text, got %v %v", text, err)
	}
}

func TestMergePartialKeepsOtherLanguages(t *testing.T) {
	langs := MustLanguages("fi", "sv", "en")
	existing := Text{"fi": "Hei", "sv": "Hej"}

	merged, err := langs.Merge(existing, Text{"en": "Hi"}, true)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged["fi"] != "Hei" || merged["sv"] != "Hej" || merged["en"] != "Hi" {
		t.Fatalf("unexpected partial merge %v", merged)
	}

	replaced, err := langs.Merge(existing, Text{"en": "Hi"}, false)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(replaced) != 1 || replaced["en"] != "Hi" {
		t.Fatalf("expected full replacement, got %v", replaced)
	}
}

func TestMergeEmptyValueClearsLanguage(t *testing.T) {
	langs := MustLanguages("fi", "sv")
	merged, err := langs.Merge(Text{"fi": "Hei", "sv": "Hej"}, Text{"sv": ""}, true)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, ok := merged["sv"]; ok {
		t.Fatalf("expected sv removed, got %v", merged)
	}
}

func TestResolveFallbackOrder(t *testing.T) {
	langs := MustLanguages("fi", "sv", "en")
	text := Text{"sv": "Hej", "en": "Hi"}

	if value, code := langs.Resolve(text, "en"); value != "Hi" || code != "en" {
		t.Fatalf("expected exact match, got %q %q", value, code)
	}
	if value, code := langs.Resolve(text, "en-GB"); value != "Hi" || code != "en" {
		t.Fatalf("expected regional match to en, got %q %q", value, code)
	}
	if value, code := langs.Resolve(text, "fi"); value != "Hej" || code != "sv" {
		t.Fatalf("expected configured-order fallback to sv, got %q %q", value, code)
	}
	if value, code := langs.Resolve(Text{}, "fi"); value != "" || code != "" {
		t.Fatalf("expected empty resolution, got %q %q", value, code)
	}
}

func TestTextScanAndValue(t *testing.T) {
	var text Text
	if err := text.Scan([]byte(`{"fi":"Hei"}`)); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if text["fi"] != "Hei" {
		t.Fatalf("unexpected scan result %v", text)
	}
	value, err := text.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if string(value.([]byte)) != `{"fi":"Hei"}` {
		t.Fatalf("unexpected value %s", value)
	}
	if err := text.Scan(nil); err != nil || len(text) != 0 {
		t.Fatalf("expected nil scan to reset, got %v %v", text, err)
	}
}

func TestJoinOrdersByCode(t *testing.T) {
	text := Text{"sv": "b", "en": "a", "fi": ""}
	if got := text.Join(" "); got != "a b" {
		t.Fatalf("unexpected join %q", got)
	}
}

func TestSerializeCoversEveryLanguage(t *testing.T) {
	langs := MustLanguages("fi", "sv", "en")
	got := langs.Serialize(Text{"fi": "Moi", "de": "Hallo"})
	want := map[string]string{"fi": "Moi", "sv": "", "en": ""}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for code, value := range want {
		if v, ok := got[code]; !ok || v != value {
			t.Fatalf("expected %s=%q, got %v", code, value, got)
		}
	}

	empty := langs.Serialize(nil)
	if len(empty) != 3 || empty["sv"] != "" {
		t.Fatalf("expected empty strings for every language, got %v", empty)
	}
}
