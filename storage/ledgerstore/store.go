package ledgerstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"

	"lendledger/native/credit"
)

var (
	bucketCreditLines     = []byte("credit_lines")
	bucketBorrowerConfigs = []byte("borrower_configs")
	bucketBorrowerStates  = []byte("borrower_states")
	bucketLoans           = []byte("loans")

	errNilStore = errors.New("ledgerstore: store not initialised")
)

// Store persists ledger state in a BoltDB file. Every ledger operation runs
// inside a single Update transaction, so either all of its writes land or none
// do.
type Store struct {
	db *bolt.DB
}

// Open initialises (and migrates) the BoltDB-backed store.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCreditLines, bucketBorrowerConfigs, bucketBorrowerStates, bucketLoans} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Update runs fn inside a writable transaction. Returning an error rolls back
// every mutation made through the transaction state.
func (s *Store) Update(fn func(*TxState) error) error {
	if s == nil || s.db == nil {
		return errNilStore
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&TxState{tx: tx})
	})
}

// View runs fn inside a read-only transaction.
func (s *Store) View(fn func(*TxState) error) error {
	if s == nil || s.db == nil {
		return errNilStore
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&TxState{tx: tx})
	})
}

// TxState exposes the ledger state of a single Bolt transaction. It satisfies
// the state dependency of the credit engine; lookups for absent records return
// nil rather than an error.
type TxState struct {
	tx *bolt.Tx
}

func scopedKey(line, borrower [20]byte) []byte {
	key := make([]byte, 0, len(line)+len(borrower))
	key = append(key, line[:]...)
	key = append(key, borrower[:]...)
	return key
}

func loanKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func getJSON(bucket *bolt.Bucket, key []byte, out interface{}) (bool, error) {
	raw := bucket.Get(key)
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func putJSON(bucket *bolt.Bucket, key []byte, record interface{}) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return bucket.Put(key, raw)
}

// GetCreditLine loads the registration record of a credit line.
func (t *TxState) GetCreditLine(line [20]byte) (*credit.CreditLineState, error) {
	var state credit.CreditLineState
	ok, err := getJSON(t.tx.Bucket(bucketCreditLines), line[:], &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

// PutCreditLine stores the registration record of a credit line.
func (t *TxState) PutCreditLine(line [20]byte, state *credit.CreditLineState) error {
	return putJSON(t.tx.Bucket(bucketCreditLines), line[:], state)
}

// GetBorrowerConfig loads the borrower configuration under a credit line.
func (t *TxState) GetBorrowerConfig(line, borrower [20]byte) (*credit.BorrowerConfig, error) {
	var cfg credit.BorrowerConfig
	ok, err := getJSON(t.tx.Bucket(bucketBorrowerConfigs), scopedKey(line, borrower), &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

// PutBorrowerConfig stores the borrower configuration under a credit line.
func (t *TxState) PutBorrowerConfig(line, borrower [20]byte, cfg *credit.BorrowerConfig) error {
	return putJSON(t.tx.Bucket(bucketBorrowerConfigs), scopedKey(line, borrower), cfg)
}

// GetBorrowerState loads the aggregate counters of a borrower.
func (t *TxState) GetBorrowerState(line, borrower [20]byte) (*credit.BorrowerState, error) {
	var state credit.BorrowerState
	ok, err := getJSON(t.tx.Bucket(bucketBorrowerStates), scopedKey(line, borrower), &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

// PutBorrowerState stores the aggregate counters of a borrower.
func (t *TxState) PutBorrowerState(line, borrower [20]byte, state *credit.BorrowerState) error {
	return putJSON(t.tx.Bucket(bucketBorrowerStates), scopedKey(line, borrower), state)
}

// GetLoan loads a loan record by identifier.
func (t *TxState) GetLoan(id uint64) (*credit.Loan, error) {
	var loan credit.Loan
	ok, err := getJSON(t.tx.Bucket(bucketLoans), loanKey(id), &loan)
	if err != nil || !ok {
		return nil, err
	}
	return &loan, nil
}

// PutLoan stores a loan record by identifier.
func (t *TxState) PutLoan(id uint64, loan *credit.Loan) error {
	return putJSON(t.tx.Bucket(bucketLoans), loanKey(id), loan)
}

// NextLoanID allocates the next loan identifier. Identifiers are sequential
// and start at one; the allocation rolls back with the enclosing transaction.
func (t *TxState) NextLoanID() (uint64, error) {
	return t.tx.Bucket(bucketLoans).NextSequence()
}
