package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Source identifies one external marketplace.
type Source string

const (
	SourceAeroconnect Source = "Aeroconnect"
	SourceLocatory    Source = "Locatory"
	SourceMyAirTrade  Source = "MyAirTrade"
)

// AllSources lists the closed set of sources in reporting order.
var AllSources = []Source{SourceAeroconnect, SourceLocatory, SourceMyAirTrade}

// String returns the source display name.
func (s Source) String() string { return string(s) }

// Valid reports whether s belongs to the closed set.
func (s Source) Valid() bool {
	for _, known := range AllSources {
		if s == known {
			return true
		}
	}
	return false
}

// ParseSource converts a case-insensitive name like "myairtrade" into a Source.
func ParseSource(name string) (Source, error) {
	for _, known := range AllSources {
		if strings.EqualFold(strings.TrimSpace(name), string(known)) {
			return known, nil
		}
	}
	return "", eris.Errorf("unknown source: %q (valid: aeroconnect, locatory, myairtrade)", name)
}
