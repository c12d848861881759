package lsp

import (
	"strings"
	"unicode/utf16"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"vmkit/internal/diag"
)

// Pos is a 1-based line and byte column, as the reader reports them.
type Pos struct {
	Line int
	Col  int
}

func splitLines(text string) []string {
	return strings.Split(text, "\n")
}

func runeUnits(r rune) int {
	n := utf16.RuneLen(r)
	if n < 0 {
		return 1
	}
	return n
}

func byteColToUTF16(lineText string, byteCol int) uint32 {
	if byteCol <= 1 {
		return 0
	}
	limit := byteCol - 1
	if limit > len(lineText) {
		limit = len(lineText)
	}
	var count uint32
	for _, r := range lineText[:limit] {
		count += uint32(runeUnits(r))
	}
	return count
}

func utf16ColToByte(lineText string, utf16Col int) int {
	if utf16Col <= 0 {
		return 1
	}
	count := 0
	for idx, r := range lineText {
		n := runeUnits(r)
		if count+n > utf16Col {
			return idx + 1
		}
		count += n
	}
	return len(lineText) + 1
}

func positionToByte(text string, pos protocol.Position) (Pos, bool) {
	lines := splitLines(text)
	lineIdx := int(pos.Line)
	if lineIdx < 0 || lineIdx >= len(lines) {
		return Pos{}, false
	}
	return Pos{Line: lineIdx + 1, Col: utf16ColToByte(lines[lineIdx], int(pos.Character))}, true
}

// toLspRange converts a reader range to UTF-16 LSP coordinates. Ranges
// past the end of a line are clamped to it.
func toLspRange(text string, r diag.Range) protocol.Range {
	lines := splitLines(text)
	line := r.Line
	if line < 1 {
		line = 1
	}
	if line > len(lines) {
		line = len(lines)
	}
	lineText := lines[line-1]
	length := r.Length
	if length < 1 {
		length = 1
	}
	start := protocol.Position{Line: uint32(line - 1), Character: byteColToUTF16(lineText, r.Col)}
	end := protocol.Position{Line: start.Line, Character: byteColToUTF16(lineText, r.Col+length)}
	if end.Character <= start.Character {
		end.Character = start.Character + 1
	}
	return protocol.Range{Start: start, End: end}
}

func within(p Pos, r diag.Range) bool {
	return p.Line == r.Line && p.Col >= r.Col && p.Col < r.Col+max(1, r.Length)
}
