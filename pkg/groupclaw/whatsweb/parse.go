package whatsweb

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/store"
)

// Meta is the parsed data-pre-plain-text prefix of a message row,
// e.g. "[12:34, 9/5/2025] Alice: ".
type Meta struct {
	Time   string
	Date   string
	Sender string
}

// ParseMeta splits a data-pre-plain-text value. It reports false when the
// value does not have the bracketed "[time, date] sender:" shape.
func ParseMeta(raw string) (Meta, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "[") {
		return Meta{}, false
	}
	end := strings.Index(raw, "] ")
	if end < 0 {
		return Meta{}, false
	}

	stamp := raw[1:end]
	comma := strings.LastIndex(stamp, ", ")
	if comma < 0 {
		return Meta{}, false
	}

	sender := strings.TrimSpace(raw[end+2:])
	sender = strings.TrimSpace(strings.TrimSuffix(sender, ":"))
	if sender == "" {
		return Meta{}, false
	}
	return Meta{
		Time:   strings.TrimSpace(stamp[:comma]),
		Date:   strings.TrimSpace(stamp[comma+2:]),
		Sender: sender,
	}, true
}

// ParseMessages extracts the messages dated day from rendered message rows.
// Only the last window rows are inspected (window <= 0 inspects all). Rows
// without metadata, with another date, or with an empty body are skipped.
func ParseMessages(html string, day time.Time, layout string, window int, sel Selectors) ([]store.Message, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	rows := doc.Find(sel.MessageRow)
	if window > 0 && rows.Length() > window {
		rows = rows.Slice(rows.Length()-window, goquery.ToEnd)
	}

	want := day.Format(layout)
	messages := []store.Message{}
	rows.Each(func(_ int, row *goquery.Selection) {
		raw, ok := row.Find(sel.Meta).First().Attr("data-pre-plain-text")
		if !ok {
			return
		}
		meta, ok := ParseMeta(raw)
		if !ok || meta.Date != want {
			return
		}
		text := strings.TrimSpace(row.Find(sel.Text).First().Text())
		if text == "" {
			return
		}
		messages = append(messages, store.Message{Sender: meta.Sender, Text: text})
	})
	return messages, nil
}
