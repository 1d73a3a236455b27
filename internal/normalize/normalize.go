// Package normalize turns source-specific raw records into canonical listings.
package normalize

import (
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/engine-watch/internal/model"
)

// Raw field names produced by the sources.
const (
	// Aeroconnect detail page labels.
	AeroEngineType    = "Engine Type"
	AeroESN           = "ESN"
	AeroCondition     = "Condition"
	AeroThrust        = "Thrust Rating"
	AeroTSN           = "TSN"
	AeroCSN           = "CSN"
	AeroTSO           = "TSO"
	AeroCSO           = "CSO"
	AeroLocation      = "Country Location"
	AeroDocumentation = "Documentation"
	AeroLastShopVisit = "Last Shop Visit"
	AeroPrice         = "Price"
	AeroContact       = "Contact"
	AeroPhone         = "Phone"
	AeroURL           = "URL"

	// Locatory search result fields.
	LocPartNumber = "Part Number"
	LocTitle      = "Title"
	LocLocation   = "Location"
	LocCondition  = "Condition"
	LocQuantity   = "Quantity"
	LocLink       = "Listing Link"

	// MyAirTrade feed keys.
	MATModel      = "model"
	MATContComm   = "contcomm"
	MATAvailable  = "ad"
	MATAdType     = "at"
	MATListingURL = "listing_url"
)

const locatoryContact = "Contact through Locatory"

var (
	reEmail     = regexp.MustCompile(`mailto:(.*?)\?`)
	rePhone     = regexp.MustCompile(`\|\s*(\+[\d\s-]+)`)
	reLocation  = regexp.MustCompile(`located in (.*?)(?:<|$)`)
	reCondition = regexp.MustCompile(`(?i)(Serviceable|As removed|Overhaul|New)`)
)

// Options configures a Normalizer.
type Options struct {
	// ValidEngines gates Locatory part numbers by substring.
	ValidEngines []string
	// DesiredEngines gates MyAirTrade models by prefix.
	DesiredEngines []string
	// RunDate stamps DateFound on every listing.
	RunDate time.Time
}

// Normalizer maps raw records onto model.Listing. It is safe for concurrent
// use.
type Normalizer struct {
	validEngines   []string
	desiredEngines []string
	dateFound      string
	log            *zap.Logger
}

// New creates a Normalizer for one run.
func New(opts Options) *Normalizer {
	date := opts.RunDate
	if date.IsZero() {
		date = time.Now()
	}
	return &Normalizer{
		validEngines:   opts.ValidEngines,
		desiredEngines: opts.DesiredEngines,
		dateFound:      date.Format(model.DateLayout),
		log:            zap.L().With(zap.String("component", "normalize")),
	}
}

// Normalize maps raw onto a canonical listing. It never fails: fields that
// are missing or cannot be interpreted become model.Unknown or keep their
// raw text.
func (n *Normalizer) Normalize(raw model.RawRecord, src model.Source) model.Listing {
	l := model.NewListing(src)
	l.DateFound = n.dateFound

	switch src {
	case model.SourceAeroconnect:
		n.aeroconnect(raw, &l)
	case model.SourceLocatory:
		n.locatory(raw, &l)
	case model.SourceMyAirTrade:
		n.myAirTrade(raw, &l)
	default:
		n.log.Warn("no field mapping for source", zap.String("source", string(src)))
	}

	clean(&l)
	return l
}

func (n *Normalizer) aeroconnect(raw model.RawRecord, l *model.Listing) {
	l.EngineModel = orUnknown(raw.Get(AeroEngineType))
	l.SerialNumber = orUnknown(raw.Get(AeroESN))
	l.Condition = orUnknown(raw.Get(AeroCondition))
	l.ThrustRating = orUnknown(raw.Get(AeroThrust))
	l.TSN = orUnknown(raw.Get(AeroTSN))
	l.CSN = orUnknown(raw.Get(AeroCSN))
	l.TSO = orUnknown(raw.Get(AeroTSO))
	l.CSO = orUnknown(raw.Get(AeroCSO))
	l.Location = orUnknown(raw.Get(AeroLocation))
	l.Documentation = orUnknown(raw.Get(AeroDocumentation))
	l.LastShopVisit = orUnknown(raw.Get(AeroLastShopVisit))
	l.Price = orUnknown(raw.Get(AeroPrice))
	l.Contact = orUnknown(raw.Get(AeroContact)) + " - " + orUnknown(raw.Get(AeroPhone))
	l.ListingURL = orUnknown(raw.Get(AeroURL))
	l.Availability = "Now"
	l.ForSale = "Yes"
}

func (n *Normalizer) locatory(raw model.RawRecord, l *model.Listing) {
	l.EngineModel = orUnknown(raw.Get(LocPartNumber))
	l.Condition = orUnknown(raw.Get(LocCondition))
	l.Location = orUnknown(raw.Get(LocLocation))
	l.Contact = locatoryContact
	l.ListingURL = orUnknown(raw.Get(LocLink))
	l.Availability = "Now"
	l.ForSale = "Yes"
}

func (n *Normalizer) myAirTrade(raw model.RawRecord, l *model.Listing) {
	contcomm := raw[MATContComm]

	l.EngineModel = orUnknown(raw.Get(MATModel))
	l.Condition = firstGroup(reCondition, contcomm)
	l.Location = firstGroup(reLocation, contcomm)
	l.Contact = firstGroup(reEmail, contcomm) + " - " + firstGroup(rePhone, contcomm)
	l.Availability = n.availability(raw.Get(MATAvailable))
	l.ListingURL = orUnknown(raw.Get(MATListingURL))
	if strings.Contains(raw.Get(MATAdType), "S") {
		l.ForSale = "Yes"
	} else {
		l.ForSale = "No"
	}
}

// availability maps the feed's availability code: IMM is immediate, a YYMMDD
// date is reformatted DD-MM-YYYY, anything else is kept as given.
func (n *Normalizer) availability(code string) string {
	switch {
	case code == "":
		return model.Unknown
	case code == "IMM":
		return "Now"
	}

	t, err := time.Parse("060102", code)
	if err != nil {
		fe := &FieldError{Source: model.SourceMyAirTrade, Field: MATAvailable, Raw: code, Err: err}
		n.log.Warn("availability not recognized, keeping raw value", zap.Error(fe))
		return code
	}
	return t.Format("02-01-2006")
}

// Accept reports whether a normalized listing passes the engine-model filter
// for its source. Empty filter lists accept everything.
func (n *Normalizer) Accept(l model.Listing) bool {
	switch l.Source {
	case model.SourceLocatory:
		if len(n.validEngines) == 0 {
			return true
		}
		for _, e := range n.validEngines {
			if strings.Contains(l.EngineModel, e) {
				return true
			}
		}
		return false
	case model.SourceMyAirTrade:
		if len(n.desiredEngines) == 0 {
			return true
		}
		for _, e := range n.desiredEngines {
			if strings.HasPrefix(l.EngineModel, e) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return model.Unknown
	}
	return orUnknown(strings.TrimSpace(m[1]))
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return model.Unknown
	}
	return v
}

// clean trims and NFC-normalizes every field so identities do not depend on
// how a page happened to encode accents or whitespace.
func clean(l *model.Listing) {
	for _, f := range []*string{
		&l.EngineModel, &l.SerialNumber, &l.Condition, &l.ThrustRating,
		&l.TSN, &l.CSN, &l.TSO, &l.CSO, &l.Location, &l.Availability,
		&l.Documentation, &l.LastShopVisit, &l.Price, &l.Contact,
		&l.ListingURL, &l.DateFound, &l.ForSale,
	} {
		v := strings.TrimSpace(norm.NFC.String(*f))
		if v == "" {
			v = model.Unknown
		}
		*f = v
	}
}
