// Package model defines the canonical listing record shared by every stage of
// a run, and the snapshot shape persisted between runs.
package model

import (
	"strings"
)

// Unknown is the sentinel stored in any listing field the source does not
// provide or whose extraction failed.
const Unknown = "N/A"

// DateLayout is the layout of Listing.DateFound.
const DateLayout = "2006-01-02"

// Listing is the normalized representation of one marketplace offer.
// Every field is always populated; missing data is Unknown.
type Listing struct {
	EngineModel   string `json:"engine_model"`
	SerialNumber  string `json:"serial_number"`
	Condition     string `json:"condition"`
	ThrustRating  string `json:"thrust_rating"`
	TSN           string `json:"tsn"`
	CSN           string `json:"csn"`
	TSO           string `json:"tso"`
	CSO           string `json:"cso"`
	Location      string `json:"location"`
	Availability  string `json:"availability"`
	Documentation string `json:"documentation"`
	LastShopVisit string `json:"last_shop_visit"`
	Price         string `json:"price"`
	Contact       string `json:"contact"`
	ListingURL    string `json:"listing_url"`
	Source        Source `json:"source"`
	DateFound     string `json:"date_found"`
	ForSale       string `json:"for_sale"`
}

// Columns is the fixed column order used by every tabular export.
var Columns = []string{
	"Engine Model",
	"ESN",
	"Condition",
	"Thrust Rating",
	"TSN",
	"CSN",
	"TSO",
	"CSO",
	"Location",
	"Availability",
	"Documentation",
	"Last Shop Visit",
	"Price",
	"Contact Information",
	"Listing Link",
	"Listing Source",
	"Date Found",
	"For Sale",
}

// NewListing returns a listing for src with every other field set to Unknown.
func NewListing(src Source) Listing {
	return Listing{
		EngineModel:   Unknown,
		SerialNumber:  Unknown,
		Condition:     Unknown,
		ThrustRating:  Unknown,
		TSN:           Unknown,
		CSN:           Unknown,
		TSO:           Unknown,
		CSO:           Unknown,
		Location:      Unknown,
		Availability:  Unknown,
		Documentation: Unknown,
		LastShopVisit: Unknown,
		Price:         Unknown,
		Contact:       Unknown,
		ListingURL:    Unknown,
		Source:        src,
		DateFound:     Unknown,
		ForSale:       Unknown,
	}
}

// Row returns the listing's values in Columns order. Empty values render as
// Unknown.
func (l Listing) Row() []string {
	row := []string{
		l.EngineModel,
		l.SerialNumber,
		l.Condition,
		l.ThrustRating,
		l.TSN,
		l.CSN,
		l.TSO,
		l.CSO,
		l.Location,
		l.Availability,
		l.Documentation,
		l.LastShopVisit,
		l.Price,
		l.Contact,
		l.ListingURL,
		string(l.Source),
		l.DateFound,
		l.ForSale,
	}
	for i, v := range row {
		if strings.TrimSpace(v) == "" {
			row[i] = Unknown
		}
	}
	return row
}

// IsUnknown reports whether v carries no information.
func IsUnknown(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || v == Unknown
}

// RawRecord is a source-specific mapping of field names to string values as
// produced by a scraper, before normalization.
type RawRecord map[string]string

// Get returns the trimmed value for key, or "" when absent.
func (r RawRecord) Get(key string) string {
	return strings.TrimSpace(r[key])
}

// Snapshot maps listing identity to listing. It represents every listing
// known to exist after the most recent successful run.
type Snapshot map[string]Listing

// CountBySource returns the number of listings per source.
func (s Snapshot) CountBySource() map[Source]int {
	counts := make(map[Source]int, len(AllSources))
	for _, l := range s {
		counts[l.Source]++
	}
	return counts
}
