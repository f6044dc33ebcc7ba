// Package cartstore persists encrypted carts in a bbolt database. Values are
// the wire form of a cart, so the store never holds anything a relay could
// not already see.
package cartstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/google/uuid"
	json "github.com/nikkolasg/hexjson"
	bolt "go.etcd.io/bbolt"

	"github.com/TheusHen/phe/phe/log"
	"github.com/TheusHen/phe/phe/protocol"
)

var (
	ErrCartNotFound = errors.New("cartstore: cart not found")
	ErrInvalidID    = errors.New("cartstore: invalid cart id")
	ErrCartOwner    = errors.New("cartstore: cart id held by another key")
)

var cartBucket = []byte("carts")

// FileName is the name of the bbolt file inside the store folder.
const FileName = "carts.db"

// OpenPerm is the permission used for the database file.
const OpenPerm = 0600

// BoltStore keeps carts keyed by their 16-byte UUID.
//
//nolint:gocritic// We do want to have a mutex here
type BoltStore struct {
	sync.Mutex
	db *bolt.DB

	log log.Logger
}

// New opens or creates the database at folder/FileName. If folder already
// names a .db file, that file is used.
func New(ctx context.Context, l log.Logger, folder string, opts *bolt.Options) (*BoltStore, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	dbPath := folder
	if path.Ext(folder) != ".db" {
		dbPath = path.Join(folder, FileName)
	}
	db, err := bolt.Open(dbPath, OpenPerm, opts)
	if err != nil {
		return nil, err
	}
	// create the bucket already
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cartBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{
		log: l,
		db:  db,
	}, nil
}

// NewID returns a fresh random cart identifier.
func NewID() string { return uuid.NewString() }

func idKey(id string) ([]byte, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return u[:], nil
}

// Put stores cart, assigning a new ID when cart.ID is empty. It returns the
// ID used. An existing cart with the same ID is replaced only when it belongs
// to the same fingerprint; otherwise ErrCartOwner is returned.
func (b *BoltStore) Put(ctx context.Context, cart *protocol.CartMessage) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if cart.ID == "" {
		cart.ID = NewID()
	}
	key, err := idKey(cart.ID)
	if err != nil {
		return "", err
	}
	buff, err := json.Marshal(cart)
	if err != nil {
		return "", err
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		bucket := tx.Bucket(cartBucket)
		if old := bucket.Get(key); old != nil {
			var prev protocol.CartMessage
			if err := json.Unmarshal(old, &prev); err != nil {
				return err
			}
			if prev.Fingerprint != cart.Fingerprint {
				return fmt.Errorf("%w: %s", ErrCartOwner, cart.ID)
			}
		}
		return bucket.Put(key, buff)
	})
	if err != nil {
		b.log.Debugw("storing cart", "id", cart.ID, "err", err)
		return "", err
	}
	return cart.ID, nil
}

// Get returns the cart stored under id.
func (b *BoltStore) Get(ctx context.Context, id string) (*protocol.CartMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	key, err := idKey(id)
	if err != nil {
		return nil, err
	}
	cart := &protocol.CartMessage{}
	err = b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(cartBucket).Get(key)
		if v == nil {
			return ErrCartNotFound
		}
		return json.Unmarshal(v, cart)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// Delete removes the cart under id. Deleting an absent cart is not an error.
func (b *BoltStore) Delete(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	key, err := idKey(id)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cartBucket).Delete(key)
	})
}

// List returns the IDs of every stored cart in key order.
func (b *BoltStore) List(ctx context.Context) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var ids []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(cartBucket).ForEach(func(k, _ []byte) error {
			u, err := uuid.FromBytes(k)
			if err != nil {
				return err
			}
			ids = append(ids, u.String())
			return nil
		})
	})
	return ids, err
}

// Len counts the stored carts.
func (b *BoltStore) Len(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	var length = 0
	err := b.db.View(func(tx *bolt.Tx) error {
		length = tx.Bucket(cartBucket).Stats().KeyN
		return nil
	})
	if err != nil {
		b.log.Warnw("", "boltdb", "error getting length", "err", err)
	}
	return length, err
}

func (b *BoltStore) Close() error {
	err := b.db.Close()
	if err != nil {
		b.log.Errorw("", "boltdb", "close", "err", err)
	}
	return err
}
