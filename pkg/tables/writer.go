package tables

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"

	"github.com/matzehuels/nlink/pkg/observability"
)

// DefaultBatchSize is the number of rows a Writer buffers per sink call.
const DefaultBatchSize = 1000

// Writer owns one table. Rows sent with Write are batched and flushed to
// the sink by a single goroutine.
type Writer struct {
	table string
	sink  Sink
	batch int
	log   *log.Logger

	rows chan []any
	done chan struct{}

	sendMu sync.RWMutex // held for reading while sending on rows
	closed bool

	mu      sync.Mutex
	written int
	err     error
}

func newWriter(ctx context.Context, sink Sink, table string, batch int, logger *log.Logger) *Writer {
	w := &Writer{
		table: table,
		sink:  sink,
		batch: batch,
		log:   logger,
		rows:  make(chan []any, 64),
		done:  make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

// Table returns the table name.
func (w *Writer) Table() string { return w.table }

// Write queues rows. It blocks while the queue is full and fails once the
// writer is closed, ctx is done, or an earlier flush failed. Rows already
// queued when a flush fails are dropped.
func (w *Writer) Write(ctx context.Context, rows ...any) error {
	if len(rows) == 0 {
		return nil
	}
	if err := w.Err(); err != nil {
		return err
	}
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed {
		return fmt.Errorf("table %s: write after close", w.table)
	}
	select {
	case w.rows <- rows:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)
	buf := make([]any, 0, w.batch)
	for rows := range w.rows {
		buf = append(buf, rows...)
		for len(buf) >= w.batch {
			if !w.flush(ctx, buf[:w.batch]) {
				w.drain()
				return
			}
			buf = append(buf[:0], buf[w.batch:]...)
		}
	}
	if len(buf) > 0 {
		w.flush(ctx, buf)
	}
}

// drain discards queued rows after a failed flush so senders never block.
func (w *Writer) drain() {
	for range w.rows {
	}
}

func (w *Writer) flush(ctx context.Context, rows []any) bool {
	start := time.Now()
	err := w.sink.WriteBatch(ctx, w.table, rows)
	observability.Store().OnRowsWritten(ctx, w.table, len(rows), time.Since(start), err)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.err = fmt.Errorf("table %s: %w", w.table, err)
		w.log.Error("write failed", "table", w.table, "rows", len(rows), "err", err)
		return false
	}
	w.written += len(rows)
	w.log.Debug("wrote rows", "table", w.table, "rows", len(rows))
	return true
}

// Err returns the first sink error.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close flushes buffered rows and waits for the writer goroutine.
func (w *Writer) Close() (int, error) {
	w.sendMu.Lock()
	if !w.closed {
		w.closed = true
		close(w.rows)
	}
	w.sendMu.Unlock()
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written, w.err
}

// Set holds one Writer per table.
type Set struct {
	sink    Sink
	writers map[string]*Writer
}

// Options configures a Set.
type Options struct {
	BatchSize int
	Logger    *log.Logger
}

// Open starts a writer for every table in All.
func Open(ctx context.Context, sink Sink, opts Options) *Set {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	s := &Set{sink: sink, writers: make(map[string]*Writer, len(All))}
	for _, t := range All {
		s.writers[t] = newWriter(ctx, sink, t, opts.BatchSize, opts.Logger)
	}
	return s
}

// Table returns the writer of table, or nil for an unknown table.
func (s *Set) Table(table string) *Writer { return s.writers[table] }

// Close closes every writer and returns rows written per table. Writer
// errors are aggregated.
func (s *Set) Close() (map[string]int, error) {
	counts := make(map[string]int, len(s.writers))
	var result *multierror.Error
	for _, t := range All {
		n, err := s.writers[t].Close()
		counts[t] = n
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return counts, result.ErrorOrNil()
}
