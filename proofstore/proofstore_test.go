package proofstore

import (
	"testing"

	"github.com/elnosh/htlcswap/contract"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndBalance(t *testing.T) {
	store := newTestStore(t)
	proofs := contract.Proofs{
		{Amount: 4, Id: "00", Secret: "one", C: "02aa"},
		{Amount: 8, Id: "00", Secret: "two", C: "02bb"},
	}

	if err := store.Save(proofs); err != nil {
		t.Fatal(err)
	}
	if store.Balance() != 12 {
		t.Fatalf("expected balance 12, got %d", store.Balance())
	}
}

func TestRemove(t *testing.T) {
	store := newTestStore(t)
	proofs := contract.Proofs{{Amount: 4, Id: "00", Secret: "one", C: "02aa"}}

	if err := store.Save(proofs); err != nil {
		t.Fatal(err)
	}
	if err := store.Remove(proofs); err != nil {
		t.Fatal(err)
	}
	if store.Balance() != 0 {
		t.Fatalf("expected balance 0 after removal, got %d", store.Balance())
	}
	if err := store.Remove(proofs); err == nil {
		t.Fatal("expected error removing already-removed proof")
	}
}

func TestSelectForSpend(t *testing.T) {
	store := newTestStore(t)
	proofs := contract.Proofs{
		{Amount: 1, Id: "00", Secret: "one", C: "02aa"},
		{Amount: 4, Id: "00", Secret: "two", C: "02bb"},
		{Amount: 8, Id: "00", Secret: "three", C: "02cc"},
	}
	if err := store.Save(proofs); err != nil {
		t.Fatal(err)
	}

	selected, err := store.SelectForSpend(5)
	if err != nil {
		t.Fatal(err)
	}
	if selected.Amount() < 5 {
		t.Fatalf("expected selection to cover at least 5, got %d", selected.Amount())
	}

	if _, err := store.SelectForSpend(100); err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}
