package mintclient

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/elnosh/htlcswap/crypto"
	bolt "go.etcd.io/bbolt"
)

const keysetsBucket = "keysets"

// KeysetCache persists a mint's active keyset on disk, keyed by mint URL,
// so a peer restarting doesn't need a live round trip to the mint before
// it can blind its first output.
type KeysetCache struct {
	db *bolt.DB
}

// OpenKeysetCache opens (creating if needed) the keyset cache database
// under dir.
func OpenKeysetCache(dir string) (*KeysetCache, error) {
	db, err := bolt.Open(filepath.Join(dir, "keysets.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("error opening keyset cache: %v", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(keysetsBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing keyset cache: %v", err)
	}

	return &KeysetCache{db: db}, nil
}

func (kc *KeysetCache) Close() error {
	return kc.db.Close()
}

func (kc *KeysetCache) get(mintURL string) (*ActiveKeyset, bool) {
	var ks *ActiveKeyset
	kc.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(keysetsBucket))
		v := bucket.Get([]byte(mintURL))
		if v == nil {
			return nil
		}
		loaded := ActiveKeyset{Keys: make(crypto.PublicKeys)}
		if err := json.Unmarshal(v, &loaded); err != nil {
			return nil
		}
		ks = &loaded
		return nil
	})
	return ks, ks != nil
}

func (kc *KeysetCache) save(mintURL string, ks *ActiveKeyset) error {
	jsonKeyset, err := json.Marshal(ks)
	if err != nil {
		return fmt.Errorf("invalid keyset: %v", err)
	}
	return kc.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(keysetsBucket))
		return bucket.Put([]byte(mintURL), jsonKeyset)
	})
}
