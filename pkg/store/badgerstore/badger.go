// Package badgerstore is a persistent Store on BadgerDB. Records are kept as
// JSON values under typed key prefixes; the per-section slice R-tree is
// rebuilt from the slice records when the database is opened.
package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/paulmach/orb"

	"slice_tracer/pkg/geo"
	"slice_tracer/pkg/store"
)

// Config holds configuration for a BadgerDB-backed store.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is set.
	Path string

	// InMemory enables in-memory mode. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// DefaultConfig returns defaults for a persistent store at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store implements store.Store, store.Snapper and store.Counter.
type Store struct {
	db *badger.DB

	mu     sync.RWMutex
	index  *store.SliceIndex
	counts store.Counts
}

// Open opens the database and loads the slice index.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{db: db}
	if err := s.reload(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens an empty in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Import validates ds and writes it, replacing records with the same keys.
// The slice index is rebuilt afterwards.
func (s *Store) Import(ctx context.Context, ds *store.Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}

	segs := make([]store.Segment, 0, len(ds.Segments))
	for _, r := range ds.Segments {
		segs = append(segs, r.Segment())
	}
	ends := make([]store.EndSegment, 0, len(ds.EndSegments))
	for _, r := range ds.EndSegments {
		ends = append(ends, r.EndSegment())
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	set := func(key []byte, v any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		val, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return wb.Set(key, val)
	}

	for _, r := range ds.Slices {
		if err := set(sliceKey(store.FormatNodeID(r.Section, r.SliceID)), r); err != nil {
			return fmt.Errorf("write slice: %w", err)
		}
	}
	for _, r := range ds.Segments {
		if err := set(idKey(prefixSegment, r.ID), r); err != nil {
			return fmt.Errorf("write segment %d: %w", r.ID, err)
		}
	}
	for _, r := range ds.EndSegments {
		if err := set(idKey(prefixEnd, r.ID), r); err != nil {
			return fmt.Errorf("write end-segment %d: %w", r.ID, err)
		}
	}
	for _, a := range store.DeriveAssociations(segs, ends) {
		if err := set(assocKey(a), assocRecord{Direction: a.Direction}); err != nil {
			return fmt.Errorf("write association: %w", err)
		}
	}
	for _, r := range ds.Groups {
		if err := set(idKey(prefixGroup, r.ID), r); err != nil {
			return fmt.Errorf("write group %d: %w", r.ID, err)
		}
		for _, v := range r.Group().Members() {
			if err := wb.Set(memberKey(v, r.ID), nil); err != nil {
				return fmt.Errorf("write membership: %w", err)
			}
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush import: %w", err)
	}
	return s.reload()
}

// reload rebuilds the slice index and counts from the database.
func (s *Store) reload() error {
	index := store.NewSliceIndex()
	var counts store.Counts

	err := s.db.View(func(txn *badger.Txn) error {
		err := iterate(txn, []byte(prefixSlice), true, func(_ []byte, val []byte) error {
			var r store.SliceRecord
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			index.Insert(r.Slice())
			return nil
		})
		if err != nil {
			return err
		}
		counts.Slices = index.Len()
		if counts.Segments, err = countPrefix(txn, []byte(prefixSegment)); err != nil {
			return err
		}
		if counts.EndSegments, err = countPrefix(txn, []byte(prefixEnd)); err != nil {
			return err
		}
		counts.Groups, err = countPrefix(txn, []byte(prefixGroup))
		return err
	})
	if err != nil {
		return fmt.Errorf("load slice index: %w", err)
	}

	s.mu.Lock()
	s.index = index
	s.counts = counts
	s.mu.Unlock()
	return nil
}

func (s *Store) sliceIndex() *store.SliceIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

func (s *Store) SlicesInRegion(ctx context.Context, v geo.Volume) ([]store.Slice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.sliceIndex().Search(v), nil
}

func (s *Store) Slices(ctx context.Context, nodeIDs []string) ([]store.Slice, error) {
	out := make([]store.Slice, 0, len(nodeIDs))
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, id := range uniqueStrings(nodeIDs) {
			var r store.SliceRecord
			found, err := getJSON(txn, sliceKey(id), &r)
			if err != nil {
				return err
			}
			if found {
				out = append(out, r.Slice())
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) SliceSegmentMap(ctx context.Context, nodeIDs []string, excludeEnd bool) ([]store.Association, error) {
	var out []store.Association
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, id := range uniqueStrings(nodeIDs) {
			prefix := assocPrefix(id, !excludeEnd)
			err := iterate(txn, prefix, true, func(key, val []byte) error {
				var r assocRecord
				if err := json.Unmarshal(val, &r); err != nil {
					return err
				}
				out = append(out, store.Association{
					SliceNodeID: id,
					VariableID:  decodeID(key[len(prefix):]),
					Direction:   r.Direction,
					End:         !excludeEnd,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) Segments(ctx context.Context, ids []int64) ([]store.Segment, error) {
	out := make([]store.Segment, 0, len(ids))
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, id := range store.UniqueIDs(ids) {
			var r store.SegmentRecord
			found, err := getJSON(txn, idKey(prefixSegment, id), &r)
			if err != nil {
				return err
			}
			if found {
				out = append(out, r.Segment())
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) EndSegments(ctx context.Context, ids []int64) ([]store.EndSegment, error) {
	out := make([]store.EndSegment, 0, len(ids))
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, id := range store.UniqueIDs(ids) {
			var r store.EndSegmentRecord
			found, err := getJSON(txn, idKey(prefixEnd, id), &r)
			if err != nil {
				return err
			}
			if found {
				out = append(out, r.EndSegment())
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) ConstraintGroupsFor(ctx context.Context, variableIDs []int64) ([]int64, error) {
	var out []int64
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, id := range store.UniqueIDs(variableIDs) {
			prefix := idKey(prefixMember, id)
			err := iterate(txn, prefix, false, func(key, _ []byte) error {
				out = append(out, decodeID(key[len(prefix):]))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return store.UniqueIDs(out), err
}

func (s *Store) GroupMembers(ctx context.Context, groupIDs []int64) ([]store.Group, error) {
	out := make([]store.Group, 0, len(groupIDs))
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, id := range store.UniqueIDs(groupIDs) {
			var r store.GroupRecord
			found, err := getJSON(txn, idKey(prefixGroup, id), &r)
			if err != nil {
				return err
			}
			if found {
				out = append(out, r.Group())
			}
		}
		return nil
	})
	return out, err
}

// NearestSlice implements store.Snapper.
func (s *Store) NearestSlice(ctx context.Context, section uint32, p orb.Point, maxDist float64) (store.Slice, bool, error) {
	if err := ctx.Err(); err != nil {
		return store.Slice{}, false, err
	}
	sl, ok := s.sliceIndex().Nearest(section, p, maxDist)
	return sl, ok, nil
}

// Counts implements store.Counter.
func (s *Store) Counts(ctx context.Context) (store.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts, nil
}

// view runs fn in a read-only transaction after checking ctx.
func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// iterate calls fn for every key under prefix in key order.
func iterate(txn *badger.Txn, prefix []byte, values bool, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = values
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var val []byte
		if values {
			var err error
			if val, err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		if err := fn(item.KeyCopy(nil), val); err != nil {
			return err
		}
	}
	return nil
}

func countPrefix(txn *badger.Txn, prefix []byte) (int, error) {
	n := 0
	err := iterate(txn, prefix, false, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// Key layout. Integer ids are big-endian with the sign bit flipped so that
// byte order matches numeric order.
const (
	prefixSlice   = "s/"
	prefixSegment = "g/"
	prefixEnd     = "e/"
	prefixGroup   = "c/"
	prefixAssoc   = "a/"
	prefixMember  = "m/"
)

type assocRecord struct {
	Direction store.Direction `json:"direction"`
}

func encodeID(id int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id)^(1<<63))
	return b[:]
}

func decodeID(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

func sliceKey(nodeID string) []byte {
	return []byte(prefixSlice + nodeID)
}

func idKey(prefix string, id int64) []byte {
	return append([]byte(prefix), encodeID(id)...)
}

// assocPrefix is "a/<node>/e" for end rows and "a/<node>/n" for segment rows.
func assocPrefix(nodeID string, end bool) []byte {
	kind := "n"
	if end {
		kind = "e"
	}
	return []byte(prefixAssoc + nodeID + "/" + kind)
}

func assocKey(a store.Association) []byte {
	return append(assocPrefix(a.SliceNodeID, a.End), encodeID(a.VariableID)...)
}

func memberKey(variableID, groupID int64) []byte {
	return append(idKey(prefixMember, variableID), encodeID(groupID)...)
}

func uniqueStrings(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
