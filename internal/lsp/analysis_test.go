package lsp

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

func TestAnalyzeDiagnostics(t *testing.T) {
	tests := []struct {
		text    string
		code    string
		line    uint32
		char    uint32
		message string
	}{
		{"(+ 1\n", "read", 0, 0, "unterminated '('"},
		{"(def x 1)\n(+ x y)", "compile", 1, 5, "undefined variable y"},
		{"(if)", "compile", 0, 0, "invalid form"},
	}

	for _, tt := range tests {
		doc := &Document{Text: tt.text, Analysis: Analyze(tt.text)}
		ds := doc.Diagnostics()
		if len(ds) != 1 {
			t.Fatalf("%q: want one diagnostic, got %d", tt.text, len(ds))
		}
		d := ds[0]
		if d.Range.Start.Line != tt.line || d.Range.Start.Character != tt.char {
			t.Errorf("%q: at %d:%d, want %d:%d", tt.text, d.Range.Start.Line, d.Range.Start.Character, tt.line, tt.char)
		}
		if d.Code == nil || d.Code.Value != tt.code {
			t.Errorf("%q: wrong code %v", tt.text, d.Code)
		}
		if !strings.Contains(d.Message, tt.message) {
			t.Errorf("%q: message %q does not contain %q", tt.text, d.Message, tt.message)
		}
		if d.Source == nil || *d.Source != "vmkit" {
			t.Errorf("%q: wrong source", tt.text)
		}
	}

	an := Analyze("(def x 1) x")
	if len(an.Diagnostics) != 0 {
		t.Errorf("clean program has diagnostics %+v", an.Diagnostics)
	}
	if !strings.Contains(an.Instructions, "OpSetGlobal 0") {
		t.Errorf("missing listing:\n%s", an.Instructions)
	}
}

func TestHover(t *testing.T) {
	text := "(def total 1)\n(def f (fn [a] (fn [] (+ a total (len [])))))"
	doc := &Document{Text: text, Analysis: Analyze(text)}

	tests := []struct {
		line, char uint32
		want       string
	}{
		{0, 6, "`total`: global #0"},
		{1, 12, "`a`: local #0"},
		{1, 25, "`a`: captured #0"},
		{1, 29, "`total`: global #0"},
		{1, 35, "`len`: builtin #0"},
		{1, 2, "(def name value)"},
		{1, 8, "(fn name? [params] body...)"},
	}
	for _, tt := range tests {
		h := HoverAt(doc, protocol.Position{Line: tt.line, Character: tt.char})
		if h == nil {
			t.Fatalf("%d:%d: no hover", tt.line, tt.char)
		}
		content, ok := h.Contents.(protocol.MarkupContent)
		if !ok {
			t.Fatalf("%d:%d: contents are %T", tt.line, tt.char, h.Contents)
		}
		if !strings.Contains(content.Value, tt.want) {
			t.Errorf("%d:%d: hover %q does not contain %q", tt.line, tt.char, content.Value, tt.want)
		}
	}

	if h := HoverAt(doc, protocol.Position{Line: 0, Character: 11}); h != nil {
		t.Errorf("hover on a number: %+v", h)
	}
}

func TestUTF16Range(t *testing.T) {
	text := "(puts \"é😀\" nope)"
	doc := &Document{Text: text, Analysis: Analyze(text)}
	ds := doc.Diagnostics()
	if len(ds) != 1 {
		t.Fatalf("want one diagnostic, got %d", len(ds))
	}
	// é is one UTF-16 unit, the emoji two; nope starts after `(puts "é😀" `.
	if ds[0].Range.Start.Character != 12 || ds[0].Range.End.Character != 16 {
		t.Errorf("wrong range %+v", ds[0].Range)
	}
}

func TestStoreVersions(t *testing.T) {
	s := NewStore()
	if _, ok := s.Set("file:///a.tiny", 2, "(+ 1 2)"); !ok {
		t.Fatalf("first set rejected")
	}
	if _, ok := s.Set("file:///a.tiny", 1, "(+ 1"); ok {
		t.Errorf("stale update accepted")
	}
	doc, ok := s.Get("file:///a.tiny")
	if !ok || doc.Text != "(+ 1 2)" {
		t.Fatalf("wrong document %+v", doc)
	}
	s.Delete("file:///a.tiny")
	if _, ok := s.Get("file:///a.tiny"); ok {
		t.Errorf("document not deleted")
	}
}
