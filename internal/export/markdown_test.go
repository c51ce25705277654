package export

import (
	"strings"
	"testing"
	"time"

	"github.com/notevault/notevault/internal/remote"
)

// TestRenderMarkdown tests frontmatter fields and body reduction
func TestRenderMarkdown(t *testing.T) {
	nb := remote.Notebook{GUID: "nb1", Name: "Projects", Stack: "Work"}
	n := remote.Note{
		GUID: "n1", Title: "Roadmap", NotebookGUID: "nb1", Active: true,
		Content:  "<en-note><div>first line</div><div>second line</div></en-note>",
		TagGUIDs: []string{"t1"},
		Created:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(),
	}

	data, err := renderMarkdown(n, nb, map[string]string{"t1": "urgent"})
	if err != nil {
		t.Fatalf("renderMarkdown() failed: %v", err)
	}
	text := string(data)

	if !strings.HasPrefix(text, "---\n") {
		t.Error("missing frontmatter opening")
	}
	for _, want := range []string{
		"title: Roadmap",
		"notebook: Projects",
		"stack: Work",
		"- urgent",
		"guid: n1",
		"created: 2024-01-02T03:04:05Z",
		"# Roadmap",
		"first line\nsecond line",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("document missing %q:\n%s", want, text)
		}
	}

	// An unset update time stays out of the frontmatter
	if strings.Contains(text, "updated:") {
		t.Error("zero updated timestamp rendered")
	}
}

// TestNoteMarkupToText tests the markup reduction rules
func TestNoteMarkupToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "<en-note>hello</en-note>", "hello"},
		{"divs become lines", "<en-note><div>a</div><div>b</div></en-note>", "a\nb"},
		{"br becomes line", "<en-note>a<br/>b</en-note>", "a\nb"},
		{"entities decode", "<en-note>salt &amp; pepper</en-note>", "salt & pepper"},
		{"nested inline kept flat", "<en-note><div>one <b>bold</b> word</div></en-note>", "one bold word"},
		{
			"empty divs collapse",
			"<en-note><div>a</div><div></div><div></div><div></div><div>b</div></en-note>",
			"a\n\nb",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := noteMarkupToText(tt.in); got != tt.want {
				t.Errorf("noteMarkupToText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestNoteMarkupToText_Unparseable tests the verbatim fallback
func TestNoteMarkupToText_Unparseable(t *testing.T) {
	in := "<en-note><di"
	if got := noteMarkupToText(in); got != in {
		t.Errorf("noteMarkupToText(%q) = %q, want input returned untouched", in, got)
	}
}
