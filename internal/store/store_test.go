package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"vmkit/internal/bytecode"
	"vmkit/internal/tiny"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "programs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func compileProgram(t *testing.T, src string) []byte {
	t.Helper()
	c := tiny.NewCompiler()
	if err := tiny.CompileString(c, src); err != nil {
		t.Fatalf("compile: %v", err)
	}
	data, err := bytecode.Marshal(c.Bytecode(), tiny.New(nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	data := compileProgram(t, "(+ 1 2)")

	e, err := s.Put(ctx, "add", data)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if e.Signature != tiny.Signature || e.Version != bytecode.FormatVersion || e.Size != len(data) {
		t.Errorf("wrong entry %+v", e)
	}
	if len(e.Digest) != 64 {
		t.Errorf("digest %q is not sha256 hex", e.Digest)
	}

	got, err := s.Get(ctx, "add")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("stored bytes differ")
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: got %v", err)
	}
}

func TestPutReplacesAndRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first := compileProgram(t, "1")
	second := compileProgram(t, `"two"`)
	if _, err := s.Put(ctx, "p", first); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, "p", second); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, second) {
		t.Errorf("put did not replace")
	}

	if _, err := s.Put(ctx, "bad", []byte("short")); !errors.Is(err, bytecode.ErrTruncated) {
		t.Errorf("garbage: got %v", err)
	}
}

func TestListDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, name := range []string{"b", "a", "c"} {
		if _, err := s.Put(ctx, name, compileProgram(t, "(+ 1 1)")); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 || entries[0].Name != "a" || entries[2].Name != "c" {
		t.Fatalf("wrong listing %+v", entries)
	}
	if entries[0].Signature != tiny.Signature {
		t.Errorf("signature not round-tripped: %08x", entries[0].Signature)
	}

	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v", err)
	}
	entries, _ = s.List(ctx)
	if len(entries) != 2 {
		t.Errorf("want 2 entries after delete, got %d", len(entries))
	}
}
