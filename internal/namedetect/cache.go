package namedetect

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
)

const cacheEntryVersion = 1

// Cache persists detector responses in a badger database.
type Cache struct {
	db *badger.DB
}

type cacheEntry struct {
	Version    int         `msgpack:"v"`
	CreatedAt  time.Time   `msgpack:"created_at"`
	Detections []Detection `msgpack:"detections"`
}

// OpenCache opens (or creates) the cache under dir.
func OpenCache(dir string, logger *slog.Logger) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("namedetect: cache directory is required")
	}
	return openCache(badger.DefaultOptions(dir), logger)
}

// OpenMemoryCache returns a cache that lives only for the process.
func OpenMemoryCache(logger *slog.Logger) (*Cache, error) {
	return openCache(badger.DefaultOptions("").WithInMemory(true), logger)
}

func openCache(opts badger.Options, logger *slog.Logger) (*Cache, error) {
	opts = opts.WithLogger(badgerLogger{logger: logging.NewComponentLogger(logger, "badger")})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open name cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get returns the cached detections for key. A miss reports ok=false.
func (c *Cache) Get(key string) (map[string]Detection, bool, error) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read name cache: %w", err)
	}
	var entry cacheEntry
	if err := msgpack.Unmarshal(raw, &entry); err != nil || entry.Version != cacheEntryVersion {
		// Unreadable entries count as misses and get overwritten.
		return nil, false, nil
	}
	out := make(map[string]Detection, len(entry.Detections))
	for _, d := range entry.Detections {
		out[d.Label] = d
	}
	return out, true, nil
}

// Put stores detections under key.
func (c *Cache) Put(key string, detections map[string]Detection) error {
	entry := cacheEntry{Version: cacheEntryVersion, CreatedAt: time.Now().UTC()}
	for _, d := range detections {
		entry.Detections = append(entry.Detections, d)
	}
	slices.SortFunc(entry.Detections, func(a, b Detection) int {
		switch {
		case a.Label < b.Label:
			return -1
		case a.Label > b.Label:
			return 1
		}
		return 0
	})
	raw, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode name cache entry: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), raw)
	})
}

// Len counts cached responses.
func (c *Cache) Len() (int, error) {
	count := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Clear drops every cached response.
func (c *Cache) Clear() error {
	if err := c.db.DropAll(); err != nil {
		return fmt.Errorf("clear name cache: %w", err)
	}
	return nil
}

// Close releases the database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// badgerLogger routes badger output through slog, demoting info chatter.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(f, v...))
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(f, v...))
}

func (l badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(f, v...))
}

func (l badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(f, v...))
}
