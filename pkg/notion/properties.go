package notion

import (
	"time"

	"github.com/jomei/notionapi"
)

// StatusProperty is the name of the status column QueryByStatus filters on.
const StatusProperty = "Status"

// Title builds a title property value.
func Title(v string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Type:  notionapi.PropertyTypeTitle,
		Title: richText(v),
	}
}

// Text builds a rich_text property value.
func Text(v string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: richText(v),
	}
}

// URL builds a url property value.
func URL(v string) notionapi.URLProperty {
	return notionapi.URLProperty{
		Type: notionapi.PropertyTypeURL,
		URL:  v,
	}
}

// Select builds a select property value.
func Select(name string) notionapi.SelectProperty {
	return notionapi.SelectProperty{
		Type:   notionapi.PropertyTypeSelect,
		Select: notionapi.Option{Name: name},
	}
}

// Status builds a status property value.
func Status(name string) notionapi.StatusProperty {
	return notionapi.StatusProperty{
		Status: notionapi.Status{Name: name},
	}
}

// Date builds a date property value starting at t.
func Date(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t)
	return notionapi.DateProperty{
		Date: &notionapi.DateObject{Start: &d},
	}
}

// PlainText returns the text of a title or rich_text property read back
// from the API, or "" for any other property type.
func PlainText(p notionapi.Property) string {
	switch v := p.(type) {
	case *notionapi.TitleProperty:
		return joinPlain(v.Title)
	case *notionapi.RichTextProperty:
		return joinPlain(v.RichText)
	case notionapi.TitleProperty:
		return joinPlain(v.Title)
	case notionapi.RichTextProperty:
		return joinPlain(v.RichText)
	default:
		return ""
	}
}

func richText(v string) []notionapi.RichText {
	return []notionapi.RichText{
		{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: v}},
	}
}

func joinPlain(rts []notionapi.RichText) string {
	var s string
	for _, rt := range rts {
		if rt.PlainText != "" {
			s += rt.PlainText
		} else if rt.Text != nil {
			s += rt.Text.Content
		}
	}
	return s
}
