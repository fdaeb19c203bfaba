package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"mealflow/logger"
	"mealflow/models"
)

// Key namespaces. Cart state is keyed independently of the auth session so it
// survives logout.
const (
	keyAuthToken        = "auth:token"
	keyAuthRefreshToken = "auth:refresh_token"
	keyCartItems        = "cart:items"
)

// ErrNotFound is returned when a key has no persisted value.
var ErrNotFound = errors.New("storage: key not found")

// Store is the durable client-side key-value state backed by BadgerDB. It
// holds the auth token pair and the persisted cart, both of which must
// survive a process restart.
type Store struct {
	db  *badger.DB
	log *logger.Log
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	return open(opts)
}

// OpenInMemory opens an ephemeral store, used in tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open client state store: %w", err)
	}
	return &Store{db: db, log: logger.GetLogger()}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) set(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *Store) get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			out = append([]byte(nil), v...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return out, err
}

func (s *Store) delete(keys ...string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveTokens persists the bearer token pair.
func (s *Store) SaveTokens(tokens models.Tokens) error {
	if err := s.set(keyAuthToken, []byte(tokens.Token)); err != nil {
		return err
	}
	return s.set(keyAuthRefreshToken, []byte(tokens.RefreshToken))
}

// SaveToken replaces only the access token, keeping the refresh token.
func (s *Store) SaveToken(token string) error {
	return s.set(keyAuthToken, []byte(token))
}

// Tokens loads the persisted token pair. Missing keys yield empty strings
// rather than an error; an absent token simply means a logged-out client.
func (s *Store) Tokens() (models.Tokens, error) {
	var tokens models.Tokens

	token, err := s.get(keyAuthToken)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return tokens, err
	}
	refresh, err := s.get(keyAuthRefreshToken)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return tokens, err
	}

	tokens.Token = string(token)
	tokens.RefreshToken = string(refresh)
	return tokens, nil
}

// ClearTokens drops the persisted auth state. The cart namespace is left
// untouched.
func (s *Store) ClearTokens() error {
	return s.delete(keyAuthToken, keyAuthRefreshToken)
}

// SaveCart serializes the cart lines under the cart namespace.
func (s *Store) SaveCart(items []models.CartItem) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal cart: %w", err)
	}
	return s.set(keyCartItems, payload)
}

// LoadCart hydrates the persisted cart. A missing key returns an empty cart.
func (s *Store) LoadCart() ([]models.CartItem, error) {
	payload, err := s.get(keyCartItems)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var items []models.CartItem
	if err := json.Unmarshal(payload, &items); err != nil {
		s.log.WithComponent("storage").WithError(err).Warn("persisted cart is corrupt, discarding")
		return nil, nil
	}
	return items, nil
}
