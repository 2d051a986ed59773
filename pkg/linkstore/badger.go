package linkstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/badger/v4"
	"github.com/golang/snappy"
)

// Key prefixes. Ids are encoded big-endian with the sign bit flipped so that
// badger's byte order matches numeric order.
var (
	prefixLinks = []byte("l/")
	prefixPages = []byte("p/")
	keyCount    = []byte("m/count")
)

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for tests.
	InMemory bool

	// ReadOnly opens an existing database without write access.
	ReadOnly bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. If nil, it is discarded.
	Logger *log.Logger
}

// DefaultBadgerConfig returns defaults for a persistent store at path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns configuration optimized for testing.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// BadgerStore is a Store backed by BadgerDB. Link sequences are stored as
// snappy-compressed varint lists, one key per page.
type BadgerStore struct {
	db    *badger.DB
	count int
}

// badgerLogger adapts a charmbracelet logger to BadgerDB's Logger interface.
type badgerLogger struct{ l *log.Logger }

func (b badgerLogger) Errorf(f string, a ...any)   { b.l.Errorf(f, a...) }
func (b badgerLogger) Warningf(f string, a ...any) { b.l.Warnf(f, a...) }
func (b badgerLogger) Infof(f string, a ...any)    { b.l.Debugf(f, a...) }
func (b badgerLogger) Debugf(f string, a ...any)   { b.l.Debugf(f, a...) }

// OpenBadger opens (or creates) a BadgerStore.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for persistent link store")
		}
		if !cfg.ReadOnly {
			if err := os.MkdirAll(cfg.Path, 0750); err != nil {
				return nil, fmt.Errorf("create link store directory %s: %w", cfg.Path, err)
			}
		}
		opts = badger.DefaultOptions(cfg.Path).WithReadOnly(cfg.ReadOnly)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open link store: %w", err)
	}

	s := &BadgerStore{db: db}
	if err := s.loadCount(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) loadCount() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyCount)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if len(v) != 8 {
				return fmt.Errorf("corrupt page count (%d bytes)", len(v))
			}
			s.count = int(binary.BigEndian.Uint64(v))
			return nil
		})
	})
}

// Import copies every row of src (and its pages, when src implements
// PageLookup through a MemoryStore) into the badger store using a write
// batch. It returns the number of pages written.
func (s *BadgerStore) Import(ctx context.Context, src Store) (int, error) {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	pages, _ := src.(*MemoryStore)
	written := 0
	err := src.Scan(ctx, func(id NodeID, links []NodeID) error {
		exists, err := s.has(id)
		if err != nil {
			return err
		}
		if err := wb.Set(linkKey(id), encodeLinks(links)); err != nil {
			return err
		}
		if pages != nil {
			if p, ok := pages.pages[id]; ok {
				data, err := json.Marshal(p)
				if err != nil {
					return err
				}
				if err := wb.Set(pageKey(id), data); err != nil {
					return err
				}
			}
		}
		if !exists {
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(s.count+written))
	if err := wb.Set(keyCount, count[:]); err != nil {
		return 0, err
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush link store: %w", err)
	}
	s.count += written
	return written, nil
}

func (s *BadgerStore) has(id NodeID) (bool, error) {
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(linkKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		ok = err == nil
		return err
	})
	return ok, err
}

// Links returns the sequence of id.
func (s *BadgerStore) Links(ctx context.Context, id NodeID) ([]NodeID, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var links []NodeID
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(linkKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error {
			links, err = decodeLinks(v)
			return err
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("read links %d: %w", id, err)
	}
	return links, found, nil
}

// Page returns the page table row of id.
func (s *BadgerStore) Page(ctx context.Context, id NodeID) (Page, bool, error) {
	var p Page
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pageKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &p) })
	})
	return p, found, err
}

// Scan iterates the link rows in ascending id order.
func (s *BadgerStore) Scan(ctx context.Context, fn func(id NodeID, links []NodeID) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixLinks
		it := txn.NewIterator(opts)
		defer it.Close()

		i := 0
		for it.Rewind(); it.Valid(); it.Next() {
			if i%scanCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			i++
			item := it.Item()
			id := decodeID(item.Key()[len(prefixLinks):])
			var links []NodeID
			if err := item.Value(func(v []byte) error {
				var err error
				links, err = decodeLinks(v)
				return err
			}); err != nil {
				return fmt.Errorf("read links %d: %w", id, err)
			}
			if err := fn(id, links); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len returns the number of pages.
func (s *BadgerStore) Len() int { return s.count }

// Close closes the database.
func (s *BadgerStore) Close() error { return s.db.Close() }

func linkKey(id NodeID) []byte { return appendID(prefixLinks, id) }
func pageKey(id NodeID) []byte { return appendID(prefixPages, id) }

func appendID(prefix []byte, id NodeID) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], uint64(id)^(1<<63))
	return k
}

func decodeID(b []byte) NodeID {
	return NodeID(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

// encodeLinks writes the sequence length followed by each id as a signed
// varint, then snappy-compresses the result.
func encodeLinks(links []NodeID) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64*(len(links)+1))
	buf = binary.AppendUvarint(buf, uint64(len(links)))
	for _, l := range links {
		buf = binary.AppendVarint(buf, int64(l))
	}
	return snappy.Encode(nil, buf)
}

func decodeLinks(v []byte) ([]NodeID, error) {
	raw, err := snappy.Decode(nil, v)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	n, k := binary.Uvarint(raw)
	if k <= 0 {
		return nil, errors.New("corrupt sequence header")
	}
	raw = raw[k:]
	if n == 0 {
		return nil, nil
	}
	links := make([]NodeID, 0, n)
	for i := uint64(0); i < n; i++ {
		l, k := binary.Varint(raw)
		if k <= 0 {
			return nil, fmt.Errorf("corrupt sequence at position %d", i+1)
		}
		links = append(links, NodeID(l))
		raw = raw[k:]
	}
	return links, nil
}

// Ensure BadgerStore implements Store and PageLookup.
var (
	_ Store      = (*BadgerStore)(nil)
	_ PageLookup = (*BadgerStore)(nil)
)
