package model

import (
	"strconv"
	"strings"
)

// Identity returns the stable key that recognizes the same listing across
// runs. It is derived from, in order: engine model, serial number, location,
// contact, source and condition.
//
// Each field is written as "<byte length>:<value>" and fields are joined with
// "|". Unknown and empty values both become the empty placeholder "0:", so a
// field keeps its position whether or not the source provided it, and the
// length prefix keeps values containing the separator from merging.
//
// Listings whose contributing fields are all unknown still get an identity;
// two of them from the same source collide.
func (l Listing) Identity() string {
	fields := [...]string{
		l.EngineModel,
		l.SerialNumber,
		l.Location,
		l.Contact,
		string(l.Source),
		l.Condition,
	}

	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('|')
		}
		f = strings.TrimSpace(f)
		if f == Unknown {
			f = ""
		}
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
	}
	return b.String()
}
