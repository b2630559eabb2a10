// Package proofstore persists a peer's spendable proofs in a bolt
// database, keyed by the proof's Y point so lookups and pending-set
// membership checks don't depend on secret string equality.
package proofstore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/elnosh/htlcswap/contract"
	"github.com/elnosh/htlcswap/crypto"
	bolt "go.etcd.io/bbolt"
)

const proofsBucket = "proofs"

var ErrNotFound = errors.New("proof not found")

type Store struct {
	db *bolt.DB
}

func Open(dir string) (*Store, error) {
	db, err := bolt.Open(filepath.Join(dir, "proofs.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("error opening proof store: %v", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(proofsBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing proof store: %v", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func proofKey(proof contract.Proof) []byte {
	Y := crypto.HashToCurve([]byte(proof.Secret))
	return Y.SerializeCompressed()
}

func (s *Store) Save(proofs contract.Proofs) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(proofsBucket))
		for _, proof := range proofs {
			jsonProof, err := json.Marshal(proof)
			if err != nil {
				return fmt.Errorf("invalid proof: %v", err)
			}
			if err := bucket.Put(proofKey(proof), jsonProof); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Remove(proofs contract.Proofs) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(proofsBucket))
		for _, proof := range proofs {
			key := proofKey(proof)
			if bucket.Get(key) == nil {
				return ErrNotFound
			}
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) All() contract.Proofs {
	proofs := contract.Proofs{}
	s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(proofsBucket))
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var proof contract.Proof
			if err := json.Unmarshal(v, &proof); err != nil {
				continue
			}
			proofs = append(proofs, proof)
		}
		return nil
	})
	return proofs
}

func (s *Store) Balance() uint64 {
	return s.All().Amount()
}

var ErrInsufficientBalance = errors.New("insufficient balance")

// SelectForSpend greedily picks proofs covering at least amount, sorted by
// amount ascending then by Y (hex of H2C(secret)) to make the selection
// deterministic across runs given the same stored set.
func (s *Store) SelectForSpend(amount uint64) (contract.Proofs, error) {
	all := s.All()
	if all.Amount() < amount {
		return nil, ErrInsufficientBalance
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Amount != all[j].Amount {
			return all[i].Amount < all[j].Amount
		}
		return hex.EncodeToString(proofKey(all[i])) < hex.EncodeToString(proofKey(all[j]))
	})

	selected := contract.Proofs{}
	var total uint64
	for _, proof := range all {
		if total >= amount {
			break
		}
		selected = append(selected, proof)
		total += proof.Amount
	}
	return selected, nil
}
