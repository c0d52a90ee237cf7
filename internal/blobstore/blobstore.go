// Package blobstore implements content-addressed storage of payload
// "tickets" with reference counting and background garbage collection
// (spec §4.1). Content is hashed with crypto/sha256 (stdlib — content
// addressing needs a collision-resistant cryptographic hash, a correctness
// boundary no third-party library in the retrieved corpus covers better than
// the standard library's own primitive) and stored once; tickets reference
// it by UUID. The map is sharded by content hash, each shard independently
// mutex-protected, so unrelated blobs never contend (spec §4.1 concurrency).
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/ferrors"
	"github.com/ferroflux/ferroflux/internal/telemetry"
)

const defaultShardCount = 32

// ContentHash identifies stored bytes by their sha256 digest.
type ContentHash string

// SecureTicket is the unit of data passed along wires (spec §3).
type SecureTicket struct {
	ID         uuid.UUID
	ContentRef ContentHash
	Metadata   map[string]string
	CreatedAt  time.Time
	Refcount   uint32
}

// entry is a content-addressed blob plus its bookkeeping.
type entry struct {
	bytes      []byte
	refcount   uint32
	pinned     bool
	createdAt  time.Time
	lastAccess time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[ContentHash]*entry
}

// ticketRecord maps a ticket id to the content it references and the
// metadata unique to that reference (metadata is per-ticket, not per-blob;
// content is immutable, spec §4.1).
type ticketRecord struct {
	mu       sync.Mutex
	contentRef ContentHash
	metadata   map[string]string
	createdAt  time.Time
}

// Store is the sharded, concurrent content-addressed blob store.
type Store struct {
	shards    []*shard
	ticketsMu sync.RWMutex
	tickets   map[uuid.UUID]*ticketRecord

	gcGrace time.Duration
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithGCGrace overrides the default 10s GC grace period (spec §4.1).
func WithGCGrace(d time.Duration) Option {
	return func(s *Store) { s.gcGrace = d }
}

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New constructs a Store with defaultShardCount shards and a 10s GC grace.
func New(opts ...Option) *Store {
	s := &Store{
		shards:  make([]*shard, defaultShardCount),
		tickets: make(map[uuid.UUID]*ticketRecord),
		gcGrace: 10 * time.Second,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[ContentHash]*entry)}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func hashContent(b []byte) ContentHash {
	sum := sha256.Sum256(b)
	return ContentHash(hex.EncodeToString(sum[:]))
}

func (s *Store) shardFor(h ContentHash) *shard {
	if len(h) < 2 {
		return s.shards[0]
	}
	b, err := hex.DecodeString(string(h[:2]))
	if err != nil {
		return s.shards[0]
	}
	return s.shards[int(b[0])%len(s.shards)]
}

// Store hashes content, inserting a new entry if the hash is unseen or
// incrementing refcount otherwise, and returns a fresh ticket referencing it.
// Content is immutable; only per-ticket metadata is mutable.
func (s *Store) Store(_ context.Context, bytes []byte, metadata map[string]string) (SecureTicket, error) {
	h := hashContent(bytes)
	sh := s.shardFor(h)

	sh.mu.Lock()
	e, ok := sh.entries[h]
	now := time.Now()
	if !ok {
		e = &entry{bytes: append([]byte(nil), bytes...), createdAt: now, lastAccess: now}
		sh.entries[h] = e
	}
	e.refcount++
	e.lastAccess = now
	sh.mu.Unlock()

	md := cloneMeta(metadata)
	rec := &ticketRecord{contentRef: h, metadata: md, createdAt: now}
	id := uuid.New()
	s.ticketsMu.Lock()
	s.tickets[id] = rec
	s.ticketsMu.Unlock()

	s.metrics.IncCounter("blobstore.store", 1)
	return SecureTicket{ID: id, ContentRef: h, Metadata: md, CreatedAt: now, Refcount: e.refcount}, nil
}

// RecoverTicket performs a read-only lookup by ticket id.
func (s *Store) RecoverTicket(_ context.Context, id uuid.UUID) (SecureTicket, bool) {
	s.ticketsMu.RLock()
	rec, ok := s.tickets[id]
	s.ticketsMu.RUnlock()
	if !ok {
		return SecureTicket{}, false
	}
	rec.mu.Lock()
	md := cloneMeta(rec.metadata)
	ref := rec.contentRef
	created := rec.createdAt
	rec.mu.Unlock()

	sh := s.shardFor(ref)
	sh.mu.Lock()
	e, ok := sh.entries[ref]
	var refcount uint32
	if ok {
		e.lastAccess = time.Now()
		refcount = e.refcount
	}
	sh.mu.Unlock()
	if !ok {
		return SecureTicket{}, false
	}
	return SecureTicket{ID: id, ContentRef: ref, Metadata: md, CreatedAt: created, Refcount: refcount}, true
}

// Content returns the immutable bytes referenced by a ticket.
func (s *Store) Content(_ context.Context, id uuid.UUID) ([]byte, error) {
	s.ticketsMu.RLock()
	rec, ok := s.tickets[id]
	s.ticketsMu.RUnlock()
	if !ok {
		return nil, ferrors.New(ferrors.TicketNotFound, "ticket %s not found", id)
	}
	rec.mu.Lock()
	ref := rec.contentRef
	rec.mu.Unlock()

	sh := s.shardFor(ref)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[ref]
	if !ok {
		return nil, ferrors.New(ferrors.TicketNotFound, "content for ticket %s not found", id)
	}
	e.lastAccess = time.Now()
	return append([]byte(nil), e.bytes...), nil
}

// UpdateMetadata merges keys into the ticket's metadata. Idempotent: applying
// the same map twice yields the same result as applying it once.
func (s *Store) UpdateMetadata(_ context.Context, id uuid.UUID, m map[string]string) error {
	s.ticketsMu.RLock()
	rec, ok := s.tickets[id]
	s.ticketsMu.RUnlock()
	if !ok {
		return ferrors.New(ferrors.TicketNotFound, "ticket %s not found", id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.metadata == nil {
		rec.metadata = make(map[string]string, len(m))
	}
	for k, v := range m {
		rec.metadata[k] = v
	}
	return nil
}

// Incref increments the refcount on the content referenced by a ticket.
func (s *Store) Incref(_ context.Context, id uuid.UUID) error {
	return s.adjustRef(id, 1)
}

// Decref decrements the refcount on the content referenced by a ticket. At
// zero, the content becomes a GC candidate (subject to pinning and grace).
func (s *Store) Decref(_ context.Context, id uuid.UUID) error {
	return s.adjustRef(id, -1)
}

func (s *Store) adjustRef(id uuid.UUID, delta int) error {
	s.ticketsMu.RLock()
	rec, ok := s.tickets[id]
	s.ticketsMu.RUnlock()
	if !ok {
		return ferrors.New(ferrors.TicketNotFound, "ticket %s not found", id)
	}
	rec.mu.Lock()
	ref := rec.contentRef
	rec.mu.Unlock()

	sh := s.shardFor(ref)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[ref]
	if !ok {
		return ferrors.New(ferrors.TicketNotFound, "content for ticket %s not found", id)
	}
	if delta < 0 {
		if e.refcount > 0 {
			e.refcount--
		}
	} else {
		e.refcount++
	}
	return nil
}

// Pin marks the ticket's content pinned, exempting it from GC, and records
// metadata["pinned"]="true" as the extra reference (spec §3 PinnedOutput).
func (s *Store) Pin(ctx context.Context, id uuid.UUID) error {
	if err := s.UpdateMetadata(ctx, id, map[string]string{"pinned": "true"}); err != nil {
		return err
	}
	s.ticketsMu.RLock()
	rec, ok := s.tickets[id]
	s.ticketsMu.RUnlock()
	if !ok {
		return ferrors.New(ferrors.TicketNotFound, "ticket %s not found", id)
	}
	rec.mu.Lock()
	ref := rec.contentRef
	rec.mu.Unlock()

	sh := s.shardFor(ref)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[ref]
	if !ok {
		return ferrors.New(ferrors.TicketNotFound, "content for ticket %s not found", id)
	}
	if !e.pinned {
		e.pinned = true
		e.refcount++
	}
	return nil
}

// RunGarbageCollection walks every shard, deleting content entries with
// refcount == 0, not pinned, and older than the GC grace period. Returns the
// number of entries freed. GC failures are logged, never surfaced (spec
// §4.1 failure model).
func (s *Store) RunGarbageCollection(ctx context.Context) int {
	cutoff := time.Now().Add(-s.gcGrace)
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for h, e := range sh.entries {
			if e.refcount == 0 && !e.pinned && e.createdAt.Before(cutoff) {
				delete(sh.entries, h)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		s.logger.Info(ctx, "garbage collection freed entries", "count", removed)
	}
	s.metrics.IncCounter("blobstore.gc_removed", float64(removed))
	return removed
}

// RefcountSum totals the refcount across every stored content entry, used by
// the invariant tests in spec §8 item 1 to cross-check against live ticket
// references.
func (s *Store) RefcountSum() uint64 {
	var total uint64
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, e := range sh.entries {
			total += uint64(e.refcount)
		}
		sh.mu.Unlock()
	}
	return total
}

// EntryCount returns the number of distinct content entries currently held,
// regardless of refcount.
func (s *Store) EntryCount() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
