package tables

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ManifestFile is the name of the run manifest written by FileSink.
const ManifestFile = "run.json"

// FileSink writes each table as <dir>/<table>.jsonl.
type FileSink struct {
	dir string

	mu    sync.Mutex
	files map[string]*jsonlFile
}

type jsonlFile struct {
	f   *os.File
	w   *bufio.Writer
	enc *json.Encoder
}

// NewFileSink creates dir if needed. Existing table files are truncated on
// first write.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &FileSink{dir: dir, files: make(map[string]*jsonlFile)}, nil
}

// Dir returns the output directory.
func (s *FileSink) Dir() string { return s.dir }

// Path returns the file of table.
func (s *FileSink) Path(table string) string {
	return filepath.Join(s.dir, table+".jsonl")
}

func (s *FileSink) file(table string) (*jsonlFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if jf, ok := s.files[table]; ok {
		return jf, nil
	}
	f, err := os.Create(s.Path(table))
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1<<16)
	jf := &jsonlFile{f: f, w: w, enc: json.NewEncoder(w)}
	s.files[table] = jf
	return jf, nil
}

// WriteBatch appends one JSON object per row.
func (s *FileSink) WriteBatch(ctx context.Context, table string, rows []any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	jf, err := s.file(table)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := jf.enc.Encode(r); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	return nil
}

// WriteManifest writes run.json.
func (s *FileSink) WriteManifest(_ context.Context, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.dir, ManifestFile+".tmp")
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.dir, ManifestFile))
}

// Close flushes and closes every table file.
func (s *FileSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for table, jf := range s.files {
		if err := jf.w.Flush(); err != nil && first == nil {
			first = fmt.Errorf("flush %s: %w", table, err)
		}
		if err := jf.f.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", table, err)
		}
		delete(s.files, table)
	}
	return first
}

// ReadManifest reads run.json from dir.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}

var _ Sink = (*FileSink)(nil)
