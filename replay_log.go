package sphinx

import (
	"crypto/sha256"
)

// HashPrefixSize is the size in bytes of the keys we will be storing in the
// ReplayLog. It represents the first 20 bytes of a truncated sha-256 hash of
// a secret generated by ECDH.
const HashPrefixSize = 20

// HashPrefix is a statically size, 20-byte array containing the prefix of a
// Hash256, and is used to detect duplicate sphinx packets.
type HashPrefix [HashPrefixSize]byte

// hashSharedSecret Sha-256 hashes the shared secret and returns the first
// HashPrefixSize bytes of the hash.
func hashSharedSecret(sharedSecret *Hash256) *HashPrefix {
	// Sha256 hash of sharedSecret.
	h := sha256.New()
	h.Write(sharedSecret[:])

	var sharedHash HashPrefix

	// Copy bytes.
	copy(sharedHash[:], h.Sum(nil))
	return &sharedHash
}

// ReplayLog is an interface that defines a log of incoming sphinx packets,
// enabling strong replay protection. The interface is general to allow
// implementations near-complete autonomy. All methods must be safe for
// concurrent access.
type ReplayLog interface {
	// Start starts up the log. It returns an error if one occurs.
	Start() error

	// Stop safely stops the log. It returns an error if one occurs.
	Stop() error

	// Get retrieves an entry from the log given its hash prefix. It
	// returns the value stored and an error if one occurs. It returns
	// ErrLogEntryNotFound if the entry is not in the log.
	Get(*HashPrefix) (uint32, error)

	// Put stores an entry into the log given its hash prefix and an
	// accompanying purposefully general type. It returns
	// ErrReplayedPacket if the provided hash prefix already exists in the
	// log.
	Put(*HashPrefix, uint32) error

	// Delete deletes an entry from the log given its hash prefix.
	Delete(*HashPrefix) error

	// PutBatch stores a batch of sphinx packets into the log given their
	// hash prefixes and accompanying values. Returns the set of entries
	// in the batch that are replays and an error if one occurs.
	PutBatch(*Batch) (*ReplaySet, error)
}

// batchEntry is a tuple of a secret's hash prefix and the corresponding CLTV
// at which the secret expires.
type batchEntry struct {
	hashPrefix HashPrefix
	cltv       uint32
}

// Batch is an object used to incrementally construct a set of entries to add
// to a replay log. After construction is completed, it can be added to the
// log using the PutBatch method.
type Batch struct {
	// IsCommitted denotes whether or not this batch has been successfully
	// written to disk.
	IsCommitted bool

	// ID is a unique, caller chosen identifier for this batch.
	ID []byte

	// ReplaySet contains the sequence numbers of all entries that were
	// detected as replays. The set is finalized upon writing the batch to
	// disk, and merges replays detected at insertion time and those
	// detected by the replay log.
	ReplaySet *ReplaySet

	// entries stores the set of all potential log entries, keyed by their
	// sequence number in the batch. Upon writing the batch to disk,
	// entries that are detected as replays are not added to the log.
	entries map[uint16]batchEntry

	// replayCache is an in memory lookup-table, which stores the hash
	// prefix of entries already added to this batch. This allows a quick
	// mechanism for intra-batch duplicate detection.
	replayCache map[HashPrefix]struct{}
}

// NewBatch initializes an object for constructing a set of entries to
// atomically add to a replay log. Batches are identified by byte slice, which
// allows the caller to safely process the same batch twice and get an
// idempotent result.
func NewBatch(id []byte) *Batch {
	return &Batch{
		ID:          id,
		ReplaySet:   NewReplaySet(),
		entries:     make(map[uint16]batchEntry),
		replayCache: make(map[HashPrefix]struct{}),
	}
}

// Put inserts a hash prefix into the batch, using the provided sequence
// number to identify the entry. Entries that are detected as duplicates
// within the batch are immediately added to the batch's replay set, which
// spares the replay log from ever seeing them.
func (b *Batch) Put(seqNum uint16, hashPrefix *HashPrefix, cltv uint32) error {
	// Abort if this batch was already written to disk.
	if b.IsCommitted {
		return ErrAlreadyCommitted
	}

	// Check to see if this hash prefix is already included in this batch.
	// If so, we will opportunistically mark this index as replayed.
	if _, ok := b.replayCache[*hashPrefix]; ok {
		b.ReplaySet.Add(seqNum, cltv)
		return nil
	}

	// Otherwise, this is a distinct hash prefix for this batch. Add it to
	// our list of entries that we will try to write to disk.
	b.entries[seqNum] = batchEntry{
		hashPrefix: *hashPrefix,
		cltv:       cltv,
	}

	// Mark this hash prefix as known in our in-memory lookup table.
	b.replayCache[*hashPrefix] = struct{}{}

	return nil
}

// MemoryReplayLog is a simple ReplayLog implementation that stores all added
// sphinx packets and processed batches in memory with no persistence.
//
// This is designed for use just in testing and utilities where no crash
// safety is required.
type MemoryReplayLog struct {
	batches map[string]*ReplaySet
	entries map[HashPrefix]uint32
}

// NewMemoryReplayLog constructs a new MemoryReplayLog.
func NewMemoryReplayLog() *MemoryReplayLog {
	return &MemoryReplayLog{}
}

// Start initializes the log and must be called before any other methods.
func (rl *MemoryReplayLog) Start() error {
	rl.batches = make(map[string]*ReplaySet)
	rl.entries = make(map[HashPrefix]uint32)
	return nil
}

// Stop wipes the state of the log.
func (rl *MemoryReplayLog) Stop() error {
	rl.batches = nil
	rl.entries = nil
	return nil
}

// Get retrieves an entry from the log given its hash prefix. It returns the
// value stored and an error if one occurs. It returns ErrLogEntryNotFound
// if the entry is not in the log.
func (rl *MemoryReplayLog) Get(hash *HashPrefix) (uint32, error) {
	cltv, exists := rl.entries[*hash]
	if !exists {
		return 0, ErrLogEntryNotFound
	}

	return cltv, nil
}

// Put stores an entry into the log given its hash prefix and an accompanying
// purposefully general type. It returns ErrReplayedPacket if the provided
// hash prefix already exists in the log.
func (rl *MemoryReplayLog) Put(hash *HashPrefix, cltv uint32) error {
	_, exists := rl.entries[*hash]
	if exists {
		return ErrReplayedPacket
	}

	rl.entries[*hash] = cltv
	return nil
}

// Delete deletes an entry from the log given its hash prefix.
func (rl *MemoryReplayLog) Delete(hash *HashPrefix) error {
	delete(rl.entries, *hash)
	return nil
}

// PutBatch stores a batch of sphinx packets into the log given their hash
// prefixes and accompanying values. Returns the set of entries in the batch
// that are replays and an error if one occurs.
func (rl *MemoryReplayLog) PutBatch(batch *Batch) (*ReplaySet, error) {
	// Return the result when the batch was previously processed.
	replays, exists := rl.batches[string(batch.ID)]
	if exists {
		batch.ReplaySet = replays
		batch.IsCommitted = true
		return replays, nil
	}

	// Add the batch to the log, constructing the replay set as we go.
	replays = NewReplaySet()
	for seqNum, entry := range batch.entries {
		err := rl.Put(&entry.hashPrefix, entry.cltv)
		if err == ErrReplayedPacket {
			replays.Add(seqNum, entry.cltv)
			continue
		}

		// An error would be bad because we have already updated the
		// entries map, but no errors other than ErrReplayedPacket
		// should occur.
		if err != nil {
			return nil, err
		}
	}

	replays.Merge(batch.ReplaySet)
	batch.ReplaySet = replays
	batch.IsCommitted = true

	rl.batches[string(batch.ID)] = replays

	log.Tracef("Committed batch %x with %v replays", batch.ID,
		replays.Size())

	return replays, nil
}

// A compile time asserting *MemoryReplayLog implements the RelayLog
// interface.
var _ ReplayLog = (*MemoryReplayLog)(nil)

// NoOpReplayLog is a ReplayLog implementation that performs no replay
// protection at all. It is meant for callers that only ever reconstruct
// previously processed packets, or for processing onion messages where
// replays carry no economic risk.
type NoOpReplayLog struct{}

// NewNoOpReplayLog constructs a new NoOpReplayLog.
func NewNoOpReplayLog() *NoOpReplayLog {
	return &NoOpReplayLog{}
}

// Start is a no-op.
func (rl *NoOpReplayLog) Start() error {
	return nil
}

// Stop is a no-op.
func (rl *NoOpReplayLog) Stop() error {
	return nil
}

// Get always returns ErrLogEntryNotFound since nothing is ever stored.
func (rl *NoOpReplayLog) Get(_ *HashPrefix) (uint32, error) {
	return 0, ErrLogEntryNotFound
}

// Put never stores the entry and never reports a replay.
func (rl *NoOpReplayLog) Put(_ *HashPrefix, _ uint32) error {
	return nil
}

// Delete is a no-op.
func (rl *NoOpReplayLog) Delete(_ *HashPrefix) error {
	return nil
}

// PutBatch marks the batch as committed and reports no replays beyond those
// the batch itself detected at insertion time.
func (rl *NoOpReplayLog) PutBatch(batch *Batch) (*ReplaySet, error) {
	replays := NewReplaySet()
	replays.Merge(batch.ReplaySet)

	batch.ReplaySet = replays
	batch.IsCommitted = true

	return replays, nil
}

// A compile time asserting *NoOpReplayLog implements the RelayLog interface.
var _ ReplayLog = (*NoOpReplayLog)(nil)
