package linkstore

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestReadLinksJSONL(t *testing.T) {
	input := `{"page_id": 1, "links": [2, 3]}
{"page_id": 2, "links": []}
{"page_id": 3}
`
	s := NewMemoryStore()
	if err := ReadLinksJSONL(strings.NewReader(input), s); err != nil {
		t.Fatalf("ReadLinksJSONL: %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	links, _, _ := s.Links(context.Background(), 1)
	if !slices.Equal(links, []NodeID{2, 3}) {
		t.Errorf("Links(1) = %v", links)
	}
}

func TestReadLinksJSONLErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"malformed", `{"page_id": 1, "links": [`, "row 1"},
		{"missing id", `{"links": [1]}`, "missing page_id"},
		{"duplicate", "{\"page_id\": 1}\n{\"page_id\": 1}", "row 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ReadLinksJSONL(strings.NewReader(tt.input), NewMemoryStore())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestReadLinksTSV(t *testing.T) {
	input := "# page\tlinks\n1\t2,3\n\n2\t\n3\n4\t 1 , 2 \r\n"
	s := NewMemoryStore()
	if err := ReadLinksTSV(strings.NewReader(input), s); err != nil {
		t.Fatalf("ReadLinksTSV: %v", err)
	}
	if s.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", s.Len())
	}
	ctx := context.Background()
	if l, _, _ := s.Links(ctx, 2); len(l) != 0 {
		t.Errorf("Links(2) = %v, want empty", l)
	}
	if l, _, _ := s.Links(ctx, 4); !slices.Equal(l, []NodeID{1, 2}) {
		t.Errorf("Links(4) = %v, want [1 2]", l)
	}
}

func TestReadLinksTSVErrors(t *testing.T) {
	for _, input := range []string{"x\t1", "1\t2,y", "-1\t2"} {
		if err := ReadLinksTSV(strings.NewReader(input), NewMemoryStore()); err == nil {
			t.Errorf("ReadLinksTSV(%q) should fail", input)
		}
	}
}

func TestReadPages(t *testing.T) {
	ctx := context.Background()

	s := NewMemoryStore()
	jsonl := `{"page_id": 7, "title": "Logic", "namespace": 0, "is_redirect": false}`
	if err := ReadPagesJSONL(strings.NewReader(jsonl), s); err != nil {
		t.Fatalf("ReadPagesJSONL: %v", err)
	}
	tsv := "8\tReason\t0\ttrue\n9\tStub\n"
	if err := ReadPagesTSV(strings.NewReader(tsv), s); err != nil {
		t.Fatalf("ReadPagesTSV: %v", err)
	}

	if p, ok, _ := s.Page(ctx, 8); !ok || p.Title != "Reason" || !p.IsRedirect {
		t.Errorf("Page(8) = %+v, %v", p, ok)
	}
	if p, ok, _ := s.Page(ctx, 9); !ok || p.Title != "Stub" || p.IsRedirect {
		t.Errorf("Page(9) = %+v, %v", p, ok)
	}
	if s.Len() != 3 || s.PageCount() != 3 {
		t.Errorf("Len() = %d, PageCount() = %d, want 3, 3", s.Len(), s.PageCount())
	}

	if err := ReadPagesTSV(strings.NewReader("1\tT\tnotanint"), NewMemoryStore()); err == nil {
		t.Error("bad namespace should fail")
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"links.jsonl", FormatJSONL, false},
		{"links.NDJSON", FormatJSONL, false},
		{"links.tsv", FormatTSV, false},
		{"links.txt", FormatTSV, false},
		{"links.csv", 0, true},
		{"links", 0, true},
	}

	for _, tt := range tests {
		got, err := DetectFormat(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("DetectFormat(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("DetectFormat(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	links := filepath.Join(dir, "links.tsv")
	pages := filepath.Join(dir, "pages.jsonl")
	if err := os.WriteFile(links, []byte("1\t2\n2\t1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pages, []byte(`{"page_id": 3, "title": "Orphan"}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(links, pages)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}

	if _, err := Load(filepath.Join(dir, "missing.tsv"), ""); err == nil {
		t.Error("Load of a missing file should fail")
	}
}
