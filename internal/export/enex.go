package export

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/notevault/notevault/internal/remote"
)

const (
	// enexTimeLayout is the compact UTC timestamp format of the ENEX
	// dialect.
	enexTimeLayout = "20060102T150405Z"

	enexDoctype = `<!DOCTYPE en-export SYSTEM "http://xml.evernote.com/pub/evernote-export4.dtd">` + "\n"

	// Application identity stamped into the en-export element.
	enexApplication = "notevault"
	enexVersion     = "1.0.0"
)

// enexExport is the root element of an .enex document.
type enexExport struct {
	XMLName     xml.Name   `xml:"en-export"`
	ExportDate  string     `xml:"export-date,attr"`
	Application string     `xml:"application,attr"`
	Version     string     `xml:"version,attr"`
	Notes       []enexNote `xml:"note"`
}

type enexNote struct {
	Title   string      `xml:"title"`
	Content enexContent `xml:"content"`
	Created string      `xml:"created,omitempty"`
	Updated string      `xml:"updated,omitempty"`
	Tags    []string    `xml:"tag,omitempty"`
}

// enexContent keeps the note body markup verbatim inside a CDATA
// section.
type enexContent struct {
	Data string `xml:",cdata"`
}

// enexTimestamp formats epoch milliseconds for ENEX, or returns ""
// for an unset timestamp so the element is omitted.
func enexTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(enexTimeLayout)
}

// renderENEX serializes notes into one ENEX document. Tag GUIDs are
// resolved to names; a dangling tag reference is dropped.
func renderENEX(notes []remote.Note, tagNames map[string]string, exportedAt time.Time) ([]byte, error) {
	doc := enexExport{
		ExportDate:  exportedAt.UTC().Format(enexTimeLayout),
		Application: enexApplication,
		Version:     enexVersion,
	}

	for _, n := range notes {
		en := enexNote{
			Title:   n.Title,
			Content: enexContent{Data: n.Content},
			Created: enexTimestamp(n.Created),
			Updated: enexTimestamp(n.Updated),
		}
		for _, guid := range n.TagGUIDs {
			if name, ok := tagNames[guid]; ok {
				en.Tags = append(en.Tags, name)
			}
		}
		doc.Notes = append(doc.Notes, en)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(enexDoctype)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode ENEX document: %w", err)
	}
	buf.WriteByte('\n')

	return buf.Bytes(), nil
}
