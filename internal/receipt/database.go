package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	transactionsBucketName = "transactions"
	categoriesBucketName   = "categories"
)

// DB defines the interface for database operations
type DB interface {
	// SaveTransaction saves a transaction to the database
	SaveTransaction(t *Transaction) error

	// GetTransaction retrieves one of a user's transactions by ID
	GetTransaction(userID, id string) (*Transaction, error)

	// ListTransactions returns all transactions of a user
	ListTransactions(userID string) ([]*Transaction, error)

	// DeleteTransaction removes one of a user's transactions
	DeleteTransaction(userID, id string) error

	// GetCategories returns a user's categories, or ErrNotFound if none were saved
	GetCategories(userID string) ([]Category, error)

	// SaveCategories replaces a user's categories
	SaveCategories(userID string, categories []Category) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Transactions are keyed
// "<user>/<id>" so a user's rows form one contiguous key range.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{transactionsBucketName, categoriesBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func userPrefix(userID string) []byte {
	return []byte(userID + "/")
}

func transactionKey(userID, id string) []byte {
	return append(userPrefix(userID), id...)
}

// SaveTransaction saves a transaction to the database
func (b *BoltDB) SaveTransaction(t *Transaction) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshaling transaction: %w", err)
		}
		return tx.Bucket([]byte(transactionsBucketName)).Put(transactionKey(t.UserID, t.ID), data)
	})
}

// GetTransaction retrieves a transaction by ID
func (b *BoltDB) GetTransaction(userID, id string) (*Transaction, error) {
	var t *Transaction
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(transactionsBucketName)).Get(transactionKey(userID, id))
		if data == nil {
			return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTransactions returns all transactions of a user in key order
func (b *BoltDB) ListTransactions(userID string) ([]*Transaction, error) {
	transactions := make([]*Transaction, 0)
	prefix := userPrefix(userID)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(transactionsBucketName)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var t Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("unmarshaling transaction: %w", err)
			}
			transactions = append(transactions, &t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

// DeleteTransaction removes a transaction from the database
func (b *BoltDB) DeleteTransaction(userID, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(transactionsBucketName))
		key := transactionKey(userID, id)
		if bucket.Get(key) == nil {
			return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return bucket.Delete(key)
	})
}

// GetCategories returns the saved categories of a user
func (b *BoltDB) GetCategories(userID string) ([]Category, error) {
	var categories []Category
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(categoriesBucketName)).Get([]byte(userID))
		if data == nil {
			return fmt.Errorf("categories for %s: %w", userID, ErrNotFound)
		}
		return json.Unmarshal(data, &categories)
	})
	if err != nil {
		return nil, err
	}
	return categories, nil
}

// SaveCategories replaces the categories of a user
func (b *BoltDB) SaveCategories(userID string, categories []Category) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(categories)
		if err != nil {
			return fmt.Errorf("marshaling categories: %w", err)
		}
		return tx.Bucket([]byte(categoriesBucketName)).Put([]byte(userID), data)
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
