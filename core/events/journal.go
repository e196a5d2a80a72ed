package events

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"lendledger/core/types"
)

const journalKeyPrefix = "event:"

// payloadCarrier is implemented by events that expose a canonical attribute
// payload in addition to their type.
type payloadCarrier interface {
	Event() *types.Event
}

// JournalRecord is the persisted form of a single emitted event.
type JournalRecord struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	EmittedAt  int64             `json:"emittedAt"`
}

// Journal is a LevelDB-backed emitter that appends every event to an ordered
// on-disk log so external indexers can replay ledger history.
type Journal struct {
	mu     sync.Mutex
	db     *leveldb.DB
	seq    uint64
	nowFn  func() int64
	closed bool
}

// OpenJournal opens (or creates) the journal database at the provided path and
// resumes the sequence counter from the last persisted record.
func OpenJournal(path string) (*Journal, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("event journal path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve event journal path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open event journal: %w", err)
	}
	j := &Journal{db: db, nowFn: func() int64 { return time.Now().Unix() }}
	iter := db.NewIterator(util.BytesPrefix([]byte(journalKeyPrefix)), nil)
	if iter.Last() {
		key := iter.Key()
		if len(key) == len(journalKeyPrefix)+8 {
			j.seq = binary.BigEndian.Uint64(key[len(journalKeyPrefix):])
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("scan event journal: %w", err)
	}
	return j, nil
}

// SetNowFunc overrides the timestamp source. Primarily intended for tests.
func (j *Journal) SetNowFunc(now func() int64) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if now == nil {
		j.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	j.nowFn = now
}

// Emit appends the event to the journal. Emit satisfies the Emitter interface
// and therefore cannot surface write errors; failures leave the sequence
// untouched so a retry of the next event reuses the slot.
func (j *Journal) Emit(ev Event) {
	if j == nil || ev == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed || j.db == nil {
		return
	}
	record := JournalRecord{Sequence: j.seq + 1, Type: ev.EventType(), EmittedAt: j.nowFn()}
	if carrier, ok := ev.(payloadCarrier); ok {
		if payload := carrier.Event(); payload != nil {
			record.Attributes = payload.Attributes
			if record.Type == "" {
				record.Type = payload.Type
			}
		}
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := j.db.Put(journalKey(record.Sequence), encoded, nil); err != nil {
		return
	}
	j.seq = record.Sequence
}

// Replay streams every persisted record in sequence order. Iteration stops when
// the callback returns false.
func (j *Journal) Replay(fn func(JournalRecord) bool) error {
	if j == nil || j.db == nil || fn == nil {
		return nil
	}
	iter := j.db.NewIterator(util.BytesPrefix([]byte(journalKeyPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var record JournalRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			return fmt.Errorf("decode event journal record: %w", err)
		}
		if !fn(record) {
			break
		}
	}
	return iter.Error()
}

// Close releases the underlying LevelDB resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

func journalKey(seq uint64) []byte {
	key := make([]byte, len(journalKeyPrefix)+8)
	copy(key, journalKeyPrefix)
	binary.BigEndian.PutUint64(key[len(journalKeyPrefix):], seq)
	return key
}
