package calibration

import (
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// ErrNoRecord is returned by a Store that has never been saved to.
var ErrNoRecord = errors.New("no calibration record")

// Store persists calibration parameters as a fixed-size binary record.
type Store interface {
	Load() (Parameters, error)
	Save(Parameters) error
}

// LoadOrDefault loads parameters from store, falling back to Defaults when
// the record is missing, has the wrong size, or fails range validation.
func LoadOrDefault(store Store, logger *zap.Logger) Parameters {
	params, err := store.Load()
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			logger.Info("No stored calibration, using defaults")
		} else {
			logger.Warn("Stored calibration unreadable, using defaults", zap.Error(err))
		}
		return Defaults()
	}

	if err := params.Validate(); err != nil {
		logger.Warn("Stored calibration out of range, using defaults", zap.Error(err))
		return Defaults()
	}

	return params
}

// ==================== BOLT ====================

const boltOpenTimeout = time.Second

var (
	calibrationBucket = []byte("calibration")
	parametersKey     = []byte("parameters")
)

type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open calibration db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(calibrationBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create calibration bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load() (Parameters, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(calibrationBucket).Get(parametersKey)
		if v == nil {
			return ErrNoRecord
		}
		// Values are only valid for the life of the transaction.
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return Parameters{}, err
	}

	var p Parameters
	if err := p.UnmarshalBinary(raw); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

func (s *BoltStore) Save(p Parameters) error {
	raw, err := p.MarshalBinary()
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(calibrationBucket).Put(parametersKey, raw)
	})
	if err != nil {
		return fmt.Errorf("failed to save calibration: %w", err)
	}
	return nil
}

// Raw returns the stored record bytes, or nil when nothing is stored.
func (s *BoltStore) Raw() ([]byte, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(calibrationBucket).Get(parametersKey); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	return raw, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// ==================== MEMORY ====================

// MemoryStore keeps the record in memory. It backs the simulator and tests.
type MemoryStore struct {
	mu  sync.Mutex
	raw []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreWithRecord seeds the store with raw record bytes, which need
// not be a valid record.
func NewMemoryStoreWithRecord(raw []byte) *MemoryStore {
	return &MemoryStore{raw: append([]byte(nil), raw...)}
}

func (s *MemoryStore) Load() (Parameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.raw == nil {
		return Parameters{}, ErrNoRecord
	}
	var p Parameters
	if err := p.UnmarshalBinary(s.raw); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

func (s *MemoryStore) Save(p Parameters) error {
	raw, err := p.MarshalBinary()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.raw = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Raw() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.raw...)
}
