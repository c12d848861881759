package main

import (
	"strings"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	"vmkit/internal/config"
	"vmkit/internal/lsp"

	_ "github.com/tliron/commonlog/simple"
)

const (
	lsName  = "vmkit-lsp"
	version = "0.1"
)

var (
	store   = lsp.NewStore()
	handler protocol.Handler
	log     = commonlog.GetLogger("vmkit.lsp.server")
)

func main() {
	verbosity := 0
	var logFile *string
	if cfg, err := config.FindAndLoad("."); err == nil {
		verbosity = cfg.Log.Verbosity
		if cfg.Log.File != "" {
			logFile = &cfg.Log.File
		}
	}
	commonlog.Configure(verbosity, logFile)

	handler = protocol.Handler{
		Initialize:            initialize,
		Initialized:           initialized,
		Shutdown:              shutdown,
		TextDocumentDidOpen:   textDocumentDidOpen,
		TextDocumentDidChange: textDocumentDidChange,
		TextDocumentDidSave:   textDocumentDidSave,
		TextDocumentDidClose:  textDocumentDidClose,
		TextDocumentHover:     textDocumentHover,

		TextDocumentSemanticTokensFull: textDocumentSemanticTokensFull,
	}

	s := server.NewServer(&handler, lsName, false)
	if err := s.RunStdio(); err != nil {
		log.Errorf("server stopped: %s", err)
	}
}

func initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	full := protocol.TextDocumentSyncKindFull
	caps := protocol.ServerCapabilities{
		TextDocumentSync: &protocol.TextDocumentSyncOptions{
			OpenClose: &protocol.True,
			Change:    &full,
			Save:      protocol.SaveOptions{IncludeText: &protocol.False},
		},
		HoverProvider: true,
		SemanticTokensProvider: &protocol.SemanticTokensOptions{
			Legend: lsp.Legend,
			Full:   true,
		},
	}
	return protocol.InitializeResult{
		Capabilities: caps,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lsName,
			Version: ptrString(version),
		},
	}, nil
}

func initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func shutdown(ctx *glsp.Context) error {
	protocol.SetTraceValue(protocol.TraceValueOff)
	return nil
}

func textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := string(params.TextDocument.URI)
	doc, _ := store.Set(uri, params.TextDocument.Version, params.TextDocument.Text)
	publishDiagnostics(ctx, uri, doc)
	return nil
}

func textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := string(params.TextDocument.URI)
	if len(params.ContentChanges) == 0 {
		return nil
	}
	text, ok := extractFullText(params.ContentChanges[len(params.ContentChanges)-1])
	if !ok {
		return nil
	}
	doc, fresh := store.Set(uri, params.TextDocument.Version, text)
	if !fresh {
		log.Debugf("ignoring stale change to %s (version %d)", uri, params.TextDocument.Version)
		return nil
	}
	publishDiagnostics(ctx, uri, doc)
	return nil
}

func textDocumentDidSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	uri := string(params.TextDocument.URI)
	if doc, ok := store.Get(uri); ok {
		publishDiagnostics(ctx, uri, doc)
	}
	return nil
}

func textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := string(params.TextDocument.URI)
	store.Delete(uri)
	publishDiagnostics(ctx, uri, nil)
	return nil
}

func textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc, ok := store.Get(string(params.TextDocument.URI))
	if !ok {
		return nil, nil
	}
	return lsp.HoverAt(doc, params.Position), nil
}

func textDocumentSemanticTokensFull(ctx *glsp.Context, params *protocol.SemanticTokensParams) (*protocol.SemanticTokens, error) {
	doc, ok := store.Get(string(params.TextDocument.URI))
	if !ok {
		return &protocol.SemanticTokens{Data: []uint32{}}, nil
	}
	return lsp.SemanticTokens(doc), nil
}

// publishDiagnostics sends doc's diagnostics, or clears them when doc is
// nil or not a tiny file.
func publishDiagnostics(ctx *glsp.Context, uri string, doc *lsp.Document) {
	diags := []protocol.Diagnostic{}
	if doc != nil && strings.HasSuffix(strings.ToLower(uri), ".tiny") {
		diags = doc.Diagnostics()
	}
	ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         protocol.DocumentUri(uri),
		Diagnostics: diags,
	})
}

func extractFullText(change any) (string, bool) {
	switch typed := change.(type) {
	case protocol.TextDocumentContentChangeEventWhole:
		return typed.Text, true
	case protocol.TextDocumentContentChangeEvent:
		return typed.Text, true
	default:
		return "", false
	}
}

func ptrString(s string) *string { return &s }
