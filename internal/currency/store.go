package currency

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const ratesBucketName = "exchange_rates"

// Store defines the durable rate tier
type Store interface {
	// GetRate returns the entry for a pair or ErrRateNotFound
	GetRate(from, to string) (*RateEntry, error)

	// SaveRate upserts the entry for its pair
	SaveRate(entry *RateEntry) error

	// Close closes the store
	Close() error
}

// BoltStore implements Store using BoltDB, one key per directed pair
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates the rate database at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening rate store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ratesBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating rate bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// GetRate retrieves the entry for from→to
func (b *BoltStore) GetRate(from, to string) (*RateEntry, error) {
	var entry *RateEntry
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(ratesBucketName)).Get([]byte(pairKey(from, to)))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrRateNotFound, pairKey(from, to))
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// SaveRate upserts the entry keyed by its pair
func (b *BoltStore) SaveRate(entry *RateEntry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling rate: %w", err)
		}
		return tx.Bucket([]byte(ratesBucketName)).Put([]byte(pairKey(entry.From, entry.To)), data)
	})
}

// Close closes the database
func (b *BoltStore) Close() error {
	return b.db.Close()
}
