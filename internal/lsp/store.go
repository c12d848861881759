package lsp

import "sync"

// Document is an open editor buffer and its latest analysis.
type Document struct {
	Text     string
	Version  int32
	Analysis *Analysis
}

type Store struct {
	mu   sync.RWMutex
	docs map[string]*Document // uri -> document
}

func NewStore() *Store {
	return &Store{docs: map[string]*Document{}}
}

// Set analyzes text and stores it. An update older than the stored
// version is ignored and reported as false.
func (s *Store) Set(uri string, version int32, text string) (*Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.docs[uri]; ok && version < old.Version {
		return old, false
	}
	doc := &Document{Text: text, Version: version, Analysis: Analyze(text)}
	s.docs[uri] = doc
	return doc, true
}

func (s *Store) Get(uri string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[uri]
	return d, ok
}

func (s *Store) Delete(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, uri)
}
