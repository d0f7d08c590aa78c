// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/chaintrace/services/supplychain/graph"
)

// Key prefixes for the BadgerDB layout.
//
//	n|<key>                  node JSON
//	r|<type>|<from>|<to>     relationship JSON
//	xo|<from>|<relID>        outgoing adjacency index (value empty)
//	xi|<to>|<relID>          incoming adjacency index (value empty)
//	lb|<label>|<key>         label index (value empty)
//	!v                       graph version (8-byte big endian)
const (
	prefixNode     = "n|"
	prefixRel      = "r|"
	prefixOut      = "xo|"
	prefixIn       = "xi|"
	prefixLabel    = "lb|"
	keyVersion     = "!v"
	keySep         = "|"
)

// BadgerConfig holds configuration for the Badger engine.
type BadgerConfig struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB internal logging. Nil disables it.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable ratio before GC runs.
	GCDiscardRatio float64

	// DecayHalfLife is the observation weight decay half-life.
	// Zero disables decay.
	DecayHalfLife time.Duration

	// Now returns the current time. Overridable for tests.
	Now func() time.Time
}

// DefaultBadgerConfig returns production defaults.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
		Now:            time.Now,
	}
}

// InMemoryBadgerConfig returns configuration for tests: in-memory, no sync,
// no GC.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{
		InMemory: true,
		Now:      time.Now,
	}
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

// Badger is the BadgerDB-backed store engine.
//
// Description:
//
//	Persists nodes and relationships as JSON values under typed key
//	prefixes, with adjacency and label index keys for traversal. The graph
//	version lives under a meta key and is also cached in memory for the
//	hot read path.
//
// Thread Safety:
//
//	Safe for concurrent use. Write transactions serialize on an internal
//	mutex, which provides the per-key serialization the adapter contract
//	requires. Traversals run on Badger read snapshots and never block
//	writers.
type Badger struct {
	db      *badger.DB
	cfg     BadgerConfig
	writeMu sync.Mutex
	version atomic.Int64
	closed  atomic.Bool
	stopGC  chan struct{}
	gcDone  chan struct{}
}

// OpenBadger opens (or creates) a Badger engine with the given config.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
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
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	b := &Badger{db: db, cfg: cfg}
	if err := b.loadVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		b.stopGC = make(chan struct{})
		b.gcDone = make(chan struct{})
		go b.runGC()
	}
	return b, nil
}

// loadVersion reads the persisted graph version into the in-memory cache.
func (b *Badger) loadVersion() error {
	return b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyVersion))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load graph version: %w", err)
		}
		return item.Value(func(val []byte) error {
			if len(val) == 8 {
				b.version.Store(int64(binary.BigEndian.Uint64(val)))
			}
			return nil
		})
	})
}

// runGC periodically triggers value log garbage collection.
func (b *Badger) runGC() {
	defer close(b.gcDone)
	ticker := time.NewTicker(b.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			ratio := b.cfg.GCDiscardRatio
			if ratio <= 0 {
				ratio = 0.5
			}
			// ErrNoRewrite is the normal "nothing to collect" outcome.
			for b.db.RunValueLogGC(ratio) == nil {
			}
		}
	}
}

// UpsertNode applies a single node mutation.
func (b *Badger) UpsertNode(ctx context.Context, u graph.NodeUpsert) error {
	_, err := b.RunWriteTransaction(ctx, []graph.Mutation{{Node: &u}})
	return err
}

// UpsertRelationship applies a single relationship mutation.
func (b *Badger) UpsertRelationship(ctx context.Context, u graph.RelationshipUpsert) error {
	_, err := b.RunWriteTransaction(ctx, []graph.Mutation{{Relationship: &u}})
	return err
}

// RunWriteTransaction atomically applies a batch of mutations.
//
// Node upserts apply before relationship upserts regardless of input order.
// The transaction validates every mutation before writing anything, so a
// failed transaction leaves no partial state.
func (b *Badger) RunWriteTransaction(ctx context.Context, muts []graph.Mutation) (TxResult, error) {
	if b.closed.Load() {
		return TxResult{}, ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return TxResult{}, err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	changed := 0
	err := b.db.Update(func(txn *badger.Txn) error {
		pending := make(map[string]graph.NodeLabel)

		// Validation pass.
		for _, m := range muts {
			n := m.Node
			if n == nil {
				continue
			}
			if n.Key == "" {
				return graph.ErrInvalidKey
			}
			if n.Label <= graph.LabelUnknown || n.Label >= graph.NumNodeLabels {
				return graph.ErrUnknownLabel
			}
			existing, err := b.readNode(txn, n.Key)
			if err != nil {
				return err
			}
			if existing != nil && existing.Label != n.Label {
				return graph.ErrLabelMismatch
			}
			pending[n.Key] = n.Label
		}
		for _, m := range muts {
			r := m.Relationship
			if r == nil {
				continue
			}
			if r.FromKey == "" || r.ToKey == "" {
				return graph.ErrInvalidKey
			}
			if r.Type <= graph.RelUnknown || r.Type >= graph.NumRelTypes {
				return graph.ErrUnknownRelType
			}
			for _, key := range []string{r.FromKey, r.ToKey} {
				if _, ok := pending[key]; ok {
					continue
				}
				existing, err := b.readNode(txn, key)
				if err != nil {
					return err
				}
				if existing == nil {
					return graph.ErrNodeNotFound
				}
			}
		}

		// Apply pass: nodes first, then relationships.
		for _, m := range muts {
			if m.Node == nil {
				continue
			}
			didChange, err := b.applyNode(txn, m.Node)
			if err != nil {
				return err
			}
			if didChange {
				changed++
			}
		}
		for _, m := range muts {
			if m.Relationship == nil {
				continue
			}
			didChange, err := b.applyRelationship(txn, m.Relationship)
			if err != nil {
				return err
			}
			if didChange {
				changed++
			}
		}

		if changed > 0 {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(b.version.Load()+1))
			if err := txn.Set([]byte(keyVersion), buf); err != nil {
				return fmt.Errorf("write graph version: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if isGraphError(err) {
			return TxResult{}, err
		}
		return TxResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if changed > 0 {
		b.version.Add(1)
	}
	return TxResult{Changed: changed, GraphVersion: b.version.Load()}, nil
}

// isGraphError reports whether err is a validation error from the graph
// model rather than an engine failure.
func isGraphError(err error) bool {
	return errors.Is(err, graph.ErrInvalidKey) ||
		errors.Is(err, graph.ErrNodeNotFound) ||
		errors.Is(err, graph.ErrUnknownLabel) ||
		errors.Is(err, graph.ErrUnknownRelType) ||
		errors.Is(err, graph.ErrLabelMismatch)
}

func (b *Badger) readNode(txn *badger.Txn, key string) (*graph.Node, error) {
	item, err := txn.Get([]byte(prefixNode + key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read node %s: %w", key, err)
	}
	var n graph.Node
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &n)
	}); err != nil {
		return nil, fmt.Errorf("decode node %s: %w", key, err)
	}
	return &n, nil
}

func (b *Badger) readRelationship(txn *badger.Txn, relID string) (*graph.Relationship, error) {
	item, err := txn.Get([]byte(prefixRel + relID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read relationship %s: %w", relID, err)
	}
	var r graph.Relationship
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	}); err != nil {
		return nil, fmt.Errorf("decode relationship %s: %w", relID, err)
	}
	return &r, nil
}

func (b *Badger) applyNode(txn *badger.Txn, u *graph.NodeUpsert) (bool, error) {
	nowMilli := b.cfg.Now().UnixMilli()

	n, err := b.readNode(txn, u.Key)
	if err != nil {
		return false, err
	}
	if n == nil {
		n = &graph.Node{
			Label:          u.Label,
			Key:            u.Key,
			CreatedAtMilli: nowMilli,
			UpdatedAtMilli: nowMilli,
		}
		graph.MergeProps(&n.Props, u.Props)
		if err := b.writeNode(txn, n); err != nil {
			return false, err
		}
		labelKey := prefixLabel + u.Label.String() + keySep + u.Key
		if err := txn.Set([]byte(labelKey), nil); err != nil {
			return false, fmt.Errorf("write label index: %w", err)
		}
		return true, nil
	}

	if !graph.MergeProps(&n.Props, u.Props) {
		return false, nil
	}
	n.UpdatedAtMilli = nowMilli
	return true, b.writeNode(txn, n)
}

func (b *Badger) applyRelationship(txn *badger.Txn, u *graph.RelationshipUpsert) (bool, error) {
	rel := &graph.Relationship{Type: u.Type, FromKey: u.FromKey, ToKey: u.ToKey}
	relID := rel.ID()

	r, err := b.readRelationship(txn, relID)
	if err != nil {
		return false, err
	}
	created := false
	if r == nil {
		r = rel
		graph.MergeProps(&r.Props, u.Props)
		created = true
	}

	changed := created
	if !created && graph.MergeProps(&r.Props, u.Props) {
		changed = true
	}
	if u.Observation != nil {
		if _, seen := r.Observations[u.Observation.EventID]; !seen {
			if r.Observations == nil {
				r.Observations = make(map[string]graph.Observation)
			}
			r.Observations[u.Observation.EventID] = *u.Observation
			r.Weight = graph.DeriveWeight(r.Observations, b.cfg.DecayHalfLife, b.cfg.Now())
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	if err := b.writeRelationship(txn, r); err != nil {
		return false, err
	}
	if created {
		outKey := prefixOut + u.FromKey + keySep + relID
		inKey := prefixIn + u.ToKey + keySep + relID
		if err := txn.Set([]byte(outKey), nil); err != nil {
			return false, fmt.Errorf("write outgoing index: %w", err)
		}
		if err := txn.Set([]byte(inKey), nil); err != nil {
			return false, fmt.Errorf("write incoming index: %w", err)
		}
	}
	return true, nil
}

func (b *Badger) writeNode(txn *badger.Txn, n *graph.Node) error {
	val, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode node %s: %w", n.Key, err)
	}
	if err := txn.Set([]byte(prefixNode+n.Key), val); err != nil {
		return fmt.Errorf("write node %s: %w", n.Key, err)
	}
	return nil
}

func (b *Badger) writeRelationship(txn *badger.Txn, r *graph.Relationship) error {
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode relationship %s: %w", r.ID(), err)
	}
	if err := txn.Set([]byte(prefixRel+r.ID()), val); err != nil {
		return fmt.Errorf("write relationship %s: %w", r.ID(), err)
	}
	return nil
}

// RunTraversal executes a bounded read query.
func (b *Badger) RunTraversal(ctx context.Context, q TraversalQuery) ([]Row, error) {
	if b.closed.Load() {
		return nil, ErrStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout(q))
	defer cancel()

	var rows []Row
	err := b.db.View(func(txn *badger.Txn) error {
		switch q.Op {
		case OpNode:
			n, err := b.readNode(txn, q.Key)
			if err != nil {
				return err
			}
			if n != nil {
				rows = append(rows, Row{Node: n})
			}
			return nil

		case OpNeighbors:
			return b.scanNeighbors(ctx, txn, q, &rows)

		case OpNodesByLabel:
			return b.scanLabel(ctx, txn, q, &rows)

		default:
			return ErrUnsupportedQuery
		}
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTraversalTimeout
		}
		if errors.Is(err, ErrUnsupportedQuery) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rows, nil
}

// scanNeighbors iterates the adjacency index for a node.
func (b *Badger) scanNeighbors(ctx context.Context, txn *badger.Txn, q TraversalQuery, rows *[]Row) error {
	var prefixes []string
	if q.Direction == graph.DirOutgoing || q.Direction == graph.DirBoth {
		prefixes = append(prefixes, prefixOut+q.Key+keySep)
	}
	if q.Direction == graph.DirIncoming || q.Direction == graph.DirBoth {
		prefixes = append(prefixes, prefixIn+q.Key+keySep)
	}

	matchType := func(t graph.RelType) bool {
		if len(q.RelTypes) == 0 {
			return true
		}
		for _, want := range q.RelTypes {
			if t == want {
				return true
			}
		}
		return false
	}

	for _, prefix := range prefixes {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				it.Close()
				return err
			}
			if q.Limit > 0 && len(*rows) >= q.Limit {
				break
			}
			relID := string(it.Item().Key()[len(prefix):])
			r, err := b.readRelationship(txn, relID)
			if err != nil {
				it.Close()
				return err
			}
			if r != nil && matchType(r.Type) {
				*rows = append(*rows, Row{Relationship: r})
			}
		}
		it.Close()
	}
	return nil
}

// scanLabel iterates the label index.
func (b *Badger) scanLabel(ctx context.Context, txn *badger.Txn, q TraversalQuery, rows *[]Row) error {
	prefix := prefixLabel + q.Label.String() + keySep
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if q.Limit > 0 && len(*rows) >= q.Limit {
			return nil
		}
		key := string(it.Item().Key()[len(prefix):])
		n, err := b.readNode(txn, key)
		if err != nil {
			return err
		}
		if n != nil {
			*rows = append(*rows, Row{Node: n})
		}
	}
	return nil
}

// CurrentGraphVersion returns the cached graph version.
func (b *Badger) CurrentGraphVersion(ctx context.Context) (int64, error) {
	if b.closed.Load() {
		return 0, ErrStoreClosed
	}
	return b.version.Load(), nil
}

// Close stops background GC and closes the database.
func (b *Badger) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	if b.stopGC != nil {
		close(b.stopGC)
		<-b.gcDone
	}
	return b.db.Close()
}
