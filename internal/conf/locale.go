package conf

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// SupportedLocales maps eBird sppLocale codes to display names.
var SupportedLocales = map[string]string{
	"en":    "English",
	"es":    "Spanish",
	"fr":    "French",
	"pt_PT": "Portuguese (Portugal)",
	"de":    "German",
}

// localeOrder fixes matcher indexes to eBird codes.
var localeOrder = []string{"en", "es", "fr", "pt_PT", "de"}

var localeMatcher = language.NewMatcher([]language.Tag{
	language.English,
	language.Spanish,
	language.French,
	language.EuropeanPortuguese,
	language.German,
})

// NormalizeLocale maps a user supplied locale ("en-US", "pt-pt", "pt_PT")
// to the eBird sppLocale code it corresponds to.
func NormalizeLocale(locale string) (string, error) {
	trimmed := strings.TrimSpace(locale)
	if _, ok := SupportedLocales[trimmed]; ok {
		return trimmed, nil
	}

	tag, err := language.Parse(strings.ReplaceAll(trimmed, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("invalid locale %q: %w", locale, err)
	}

	_, idx, confidence := localeMatcher.Match(tag)
	if confidence < language.High {
		return "", fmt.Errorf("unsupported locale %q: must be one of %s", locale, strings.Join(localeOrder, ", "))
	}
	return localeOrder[idx], nil
}
