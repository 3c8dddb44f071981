package app

import (
	"strings"

	"github.com/abadojack/whatlanggo"

	"kerrokantasi/api/internal/store"
)

var detectableLanguages = map[string]whatlanggo.Lang{
	"fi": whatlanggo.Fin,
	"sv": whatlanggo.Swe,
	"en": whatlanggo.Eng,
	"ru": whatlanggo.Rus,
	"de": whatlanggo.Deu,
	"fr": whatlanggo.Fra,
}

// detectLanguage guesses the language of a comment among the languages the
// section is written in. It returns "" below the confidence threshold.
func (s *Service) detectLanguage(section store.Section, content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	candidates := map[whatlanggo.Lang]bool{}
	for code, value := range section.Content {
		if lang, ok := detectableLanguages[code]; ok && strings.TrimSpace(value) != "" {
			candidates[lang] = true
		}
	}
	if len(candidates) == 0 {
		for _, code := range s.languages.Codes() {
			if lang, ok := detectableLanguages[code]; ok {
				candidates[lang] = true
			}
		}
	}
	if len(candidates) == 0 {
		return ""
	}

	info := whatlanggo.DetectWithOptions(content, whatlanggo.Options{Whitelist: candidates})
	if info.Confidence < s.config.LanguageDetectionThreshold {
		return ""
	}
	code := info.Lang.Iso6391()
	if !s.languages.Known(code) {
		return ""
	}
	return code
}
