package export

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/notevault/notevault/internal/remote"
)

// frontmatter is the YAML header of a Markdown export document.
type frontmatter struct {
	Title    string    `yaml:"title"`
	Notebook string    `yaml:"notebook"`
	Stack    string    `yaml:"stack,omitempty"`
	Tags     []string  `yaml:"tags,omitempty"`
	Created  time.Time `yaml:"created,omitempty"`
	Updated  time.Time `yaml:"updated,omitempty"`
	GUID     string    `yaml:"guid"`
}

// renderMarkdown produces a Markdown document with YAML frontmatter
// for one note. The note body markup is reduced to plain text.
func renderMarkdown(n remote.Note, nb remote.Notebook, tagNames map[string]string) ([]byte, error) {
	fm := frontmatter{
		Title:    n.Title,
		Notebook: nb.Name,
		Stack:    nb.Stack,
		GUID:     n.GUID,
	}
	if n.Created != 0 {
		fm.Created = time.UnixMilli(n.Created).UTC()
	}
	if n.Updated != 0 {
		fm.Updated = time.UnixMilli(n.Updated).UTC()
	}
	for _, guid := range n.TagGUIDs {
		if name, ok := tagNames[guid]; ok {
			fm.Tags = append(fm.Tags, name)
		}
	}

	head, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(head)
	buf.WriteString("---\n\n")

	if n.Title != "" {
		fmt.Fprintf(&buf, "# %s\n\n", n.Title)
	}

	body := noteMarkupToText(n.Content)
	if body != "" {
		buf.WriteString(body)
		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}

// blockTags end a line of text when reducing note markup. br is
// handled on the opening tag instead so it yields a single newline.
var blockTags = map[string]bool{
	"en-note": true, "div": true, "p": true, "li": true, "tr": true,
	"table": true, "ul": true, "ol": true, "blockquote": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

var blankLineRuns = regexp.MustCompile(`\n{3,}`)

// noteMarkupToText reduces note body markup to readable plain text.
// Markup that does not parse is returned untouched rather than lost.
func noteMarkupToText(content string) string {
	if content == "" {
		return ""
	}

	dec := xml.NewDecoder(strings.NewReader(content))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return strings.TrimSpace(content)
		}

		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.StartElement:
			if strings.EqualFold(t.Name.Local, "br") {
				b.WriteByte('\n')
			}
		case xml.EndElement:
			if blockTags[strings.ToLower(t.Name.Local)] {
				b.WriteByte('\n')
			}
		}
	}

	text := strings.TrimSpace(b.String())
	return blankLineRuns.ReplaceAllString(text, "\n\n")
}
