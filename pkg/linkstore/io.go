package linkstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Format identifies a table file encoding.
type Format int

const (
	FormatJSONL Format = iota
	FormatTSV
)

// DetectFormat picks the encoding from a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL, nil
	case ".tsv", ".txt":
		return FormatTSV, nil
	}
	return 0, fmt.Errorf("unrecognized table format: %s (use .jsonl or .tsv)", path)
}

type linkRow struct {
	PageID *NodeID  `json:"page_id"`
	Links  []NodeID `json:"links"`
}

// ReadLinksJSONL decodes one {"page_id", "links"} object per line from r into s.
//
// ReadLinksJSONL returns an error if a row is malformed, lacks page_id, or
// repeats a page id. Errors are wrapped with the 1-based row number.
func ReadLinksJSONL(r io.Reader, s *MemoryStore) error {
	dec := json.NewDecoder(r)
	for row := 1; ; row++ {
		var lr linkRow
		if err := dec.Decode(&lr); errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("row %d: decode: %w", row, err)
		}
		if lr.PageID == nil {
			return fmt.Errorf("row %d: missing page_id", row)
		}
		if err := s.Put(*lr.PageID, lr.Links); err != nil {
			return fmt.Errorf("row %d: page %d: %w", row, *lr.PageID, err)
		}
	}
}

// ReadLinksTSV decodes "page_id<TAB>l1,l2,..." lines from r into s.
// Blank lines and lines starting with '#' are skipped. An empty second
// column (or a missing one) is an empty sequence.
func ReadLinksTSV(r io.Reader, s *MemoryStore) error {
	return eachLine(r, func(row int, line string) error {
		idField, rest, _ := strings.Cut(line, "\t")
		id, err := parseID(idField)
		if err != nil {
			return fmt.Errorf("row %d: page_id: %w", row, err)
		}
		var links []NodeID
		if rest = strings.TrimSpace(rest); rest != "" {
			fields := strings.Split(rest, ",")
			links = make([]NodeID, 0, len(fields))
			for _, f := range fields {
				l, err := parseID(f)
				if err != nil {
					return fmt.Errorf("row %d: link: %w", row, err)
				}
				links = append(links, l)
			}
		}
		if err := s.Put(id, links); err != nil {
			return fmt.Errorf("row %d: page %d: %w", row, id, err)
		}
		return nil
	})
}

// ReadPagesJSONL decodes one page object per line from r into s.
func ReadPagesJSONL(r io.Reader, s *MemoryStore) error {
	dec := json.NewDecoder(r)
	for row := 1; ; row++ {
		var p Page
		if err := dec.Decode(&p); errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("row %d: decode: %w", row, err)
		}
		s.AddPage(p)
	}
}

// ReadPagesTSV decodes "page_id<TAB>title<TAB>namespace<TAB>is_redirect"
// lines from r into s. Trailing columns are optional.
func ReadPagesTSV(r io.Reader, s *MemoryStore) error {
	return eachLine(r, func(row int, line string) error {
		cols := strings.Split(line, "\t")
		id, err := parseID(cols[0])
		if err != nil {
			return fmt.Errorf("row %d: page_id: %w", row, err)
		}
		p := Page{ID: id}
		if len(cols) > 1 {
			p.Title = cols[1]
		}
		if len(cols) > 2 && cols[2] != "" {
			if p.Namespace, err = strconv.Atoi(strings.TrimSpace(cols[2])); err != nil {
				return fmt.Errorf("row %d: namespace: %w", row, err)
			}
		}
		if len(cols) > 3 && cols[3] != "" {
			if p.IsRedirect, err = strconv.ParseBool(strings.TrimSpace(cols[3])); err != nil {
				return fmt.Errorf("row %d: is_redirect: %w", row, err)
			}
		}
		s.AddPage(p)
		return nil
	})
}

// ImportLinks reads a link-sequence file at path into s, choosing the
// decoder from the file extension.
func ImportLinks(path string, s *MemoryStore) error {
	return importFile(path, s, ReadLinksJSONL, ReadLinksTSV)
}

// ImportPages reads a page table file at path into s.
func ImportPages(path string, s *MemoryStore) error {
	return importFile(path, s, ReadPagesJSONL, ReadPagesTSV)
}

// Load builds a MemoryStore from a link-sequence file and an optional page
// table file (pagesPath may be empty).
func Load(linksPath, pagesPath string) (*MemoryStore, error) {
	s := NewMemoryStore()
	if err := ImportLinks(linksPath, s); err != nil {
		return nil, err
	}
	if pagesPath != "" {
		if err := ImportPages(pagesPath, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

type readFunc func(io.Reader, *MemoryStore) error

func importFile(path string, s *MemoryStore, jsonl, tsv readFunc) error {
	format, err := DetectFormat(path)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	read := jsonl
	if format == FormatTSV {
		read = tsv
	}
	if err := read(bufio.NewReaderSize(f, 1<<20), s); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// eachLine calls fn for every non-blank, non-comment line. Lines are read
// with a bufio.Reader so very long link lists are not truncated.
func eachLine(r io.Reader, fn func(row int, line string) error) error {
	br := bufio.NewReader(r)
	for row := 1; ; row++ {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("row %d: read: %w", row, err)
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(trimmed) != "" && !strings.HasPrefix(trimmed, "#") {
			if ferr := fn(row, trimmed); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func parseID(s string) (NodeID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative id %d", v)
	}
	return NodeID(v), nil
}
