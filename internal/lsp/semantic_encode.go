package lsp

import "sort"

// EncodeSemanticTokens produces the LSP relative encoding: each token is
// five integers, its line and start relative to the previous token.
func EncodeSemanticTokens(toks []SemTok) []uint32 {
	sort.SliceStable(toks, func(i, j int) bool {
		if toks[i].Line != toks[j].Line {
			return toks[i].Line < toks[j].Line
		}
		return toks[i].Char < toks[j].Char
	})

	data := []uint32{}
	var prevLine, prevChar uint32
	for _, t := range toks {
		if t.Length == 0 {
			continue
		}
		deltaLine := t.Line - prevLine
		deltaStart := t.Char
		if deltaLine == 0 {
			deltaStart = t.Char - prevChar
		}
		data = append(data, deltaLine, deltaStart, t.Length, uint32(t.Type), uint32(t.Mods))
		prevLine, prevChar = t.Line, t.Char
	}
	return data
}
