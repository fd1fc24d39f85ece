package notion

import (
	"strings"

	"github.com/jomei/notionapi"
)

// maxTextLength is Notion's limit for a single rich text object.
const maxTextLength = 2000

func richText(s string) []notionapi.RichText {
	if len(s) > maxTextLength {
		s = s[:maxTextLength]
	}
	return []notionapi.RichText{
		{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
	}
}

// TitleValue builds a title property.
func TitleValue(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{Type: notionapi.PropertyTypeTitle, Title: richText(s)}
}

// TextValue builds a rich_text property.
func TextValue(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{Type: notionapi.PropertyTypeRichText, RichText: richText(s)}
}

// URLValue builds a url property.
func URLValue(s string) notionapi.URLProperty {
	return notionapi.URLProperty{Type: notionapi.PropertyTypeURL, URL: s}
}

// SelectValue builds a select property.
func SelectValue(name string) notionapi.SelectProperty {
	return notionapi.SelectProperty{Type: notionapi.PropertyTypeSelect, Select: notionapi.Option{Name: name}}
}

// StatusValue builds a status property.
func StatusValue(name string) notionapi.StatusProperty {
	return notionapi.StatusProperty{Type: notionapi.PropertyTypeStatus, Status: notionapi.Status{Name: name}}
}

// PlainText returns the text content of a title, rich_text, url, select or
// status property. Other property types yield "".
func PlainText(prop notionapi.Property) string {
	switch p := prop.(type) {
	case *notionapi.TitleProperty:
		return joinText(p.Title)
	case *notionapi.RichTextProperty:
		return joinText(p.RichText)
	case *notionapi.URLProperty:
		return p.URL
	case *notionapi.SelectProperty:
		return p.Select.Name
	case *notionapi.StatusProperty:
		return p.Status.Name
	}
	return ""
}

// PageText returns PlainText of the named property on page, trimmed.
func PageText(page notionapi.Page, property string) string {
	prop, ok := page.Properties[property]
	if !ok {
		return ""
	}
	return strings.TrimSpace(PlainText(prop))
}

func joinText(rts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range rts {
		b.WriteString(rt.PlainText)
	}
	return b.String()
}
