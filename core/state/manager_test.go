package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"

	"srpchain/core/types"
	"srpchain/native/sale"
	"srpchain/storage"
)

func testSale(id [32]byte) *sale.Sale {
	var seller [20]byte
	seller[0] = 0x01
	return &sale.Sale{
		ID:          id,
		Seller:      seller,
		Price:       big.NewInt(1000),
		Description: []byte("item"),
		Status:      sale.SaleNew,
	}
}

func testID(fill byte) [32]byte {
	var id [32]byte
	for i := range id {
		id[i] = fill
	}
	return id
}

func TestSaleRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	id := testID(0x01)

	if err := mgr.SalePut(testSale(id)); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Visible through the overlay before commit.
	got, ok, err := mgr.SaleGet(id)
	if err != nil || !ok {
		t.Fatalf("get before commit: ok=%v err=%v", ok, err)
	}
	if got.Price.Cmp(big.NewInt(1000)) != 0 || string(got.Description) != "item" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// And from a fresh manager over the same database after commit.
	fresh := NewManager(db)
	got, ok, err = fresh.SaleGet(id)
	if err != nil || !ok {
		t.Fatalf("get after commit: ok=%v err=%v", ok, err)
	}
	if got.ID != id || got.Status != sale.SaleNew {
		t.Fatalf("persisted sale mismatch: %+v", got)
	}
}

func TestSaleGetMissing(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	_, ok, err := mgr.SaleGet(testID(0x02))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("missing sale reported present")
	}
}

func TestSalePutRejectsInvalid(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	bad := testSale(testID(0x03))
	bad.Price = big.NewInt(0)
	if err := mgr.SalePut(bad); !errors.Is(err, sale.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSaleGetDetectsCorruption(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	id := testID(0x04)

	// Garbage bytes under the sale key.
	if err := db.Put(saleKey(id), []byte("not rlp")); err != nil {
		t.Fatalf("seed garbage: %v", err)
	}
	if _, _, err := mgr.SaleGet(id); !errors.Is(err, sale.ErrCorrupted) {
		t.Fatalf("expected corruption error for garbage, got %v", err)
	}

	// A well-formed record filed under the wrong key.
	other := testID(0x05)
	record := &storedSale{ID: other, Seller: [20]byte{0x01}, Price: big.NewInt(1), Status: 0}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := db.Put(saleKey(id), encoded); err != nil {
		t.Fatalf("seed mismatch: %v", err)
	}
	if _, _, err := mgr.SaleGet(id); !errors.Is(err, sale.ErrCorrupted) {
		t.Fatalf("expected corruption error for id mismatch, got %v", err)
	}
}

func TestRollbackDiscardsOverlay(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	id := testID(0x06)

	if err := mgr.SalePut(testSale(id)); err != nil {
		t.Fatalf("put: %v", err)
	}
	mgr.Rollback()

	if _, ok, _ := mgr.SaleGet(id); ok {
		t.Fatalf("rolled back sale still visible")
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := db.Get(saleKey(id)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("rolled back sale reached the database: %v", err)
	}
}

func TestSaleDeleteRemovesRecordAndCustody(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	id := testID(0x07)

	if err := mgr.SalePut(testSale(id)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.SaleCredit(id, big.NewInt(2000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := mgr.SaleDelete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit delete: %v", err)
	}

	if _, ok, _ := mgr.SaleGet(id); ok {
		t.Fatalf("deleted sale still readable")
	}
	balance, err := mgr.SaleBalance(id)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("custody balance survived delete: %s", balance)
	}
}

func TestCustodyLedger(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	id := testID(0x08)

	if err := mgr.SaleCredit(id, big.NewInt(2000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := mgr.SaleCredit(id, big.NewInt(2000)); err != nil {
		t.Fatalf("second credit: %v", err)
	}
	balance, err := mgr.SaleBalance(id)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(4000)) != 0 {
		t.Fatalf("balance %s, want 4000", balance)
	}

	if err := mgr.SaleDebit(id, big.NewInt(4000)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := mgr.SaleDebit(id, big.NewInt(1)); !errors.Is(err, sale.ErrValidation) {
		t.Fatalf("expected validation error on overdraw, got %v", err)
	}
	if err := mgr.SaleCredit(id, big.NewInt(-1)); !errors.Is(err, sale.ErrValidation) {
		t.Fatalf("expected validation error on negative credit, got %v", err)
	}
}

func TestStorageQuota(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	mgr.SetStorageQuota(big.NewInt(100))
	id := testID(0x09)

	if err := mgr.SalePut(testSale(id)); !errors.Is(err, sale.ErrPersistence) {
		t.Fatalf("expected persistence error without stake, got %v", err)
	}

	vault := mgr.SaleVaultAddress()
	if err := mgr.PutAccount(vault[:], &types.Account{BalanceMCT: big.NewInt(0), Stake: big.NewInt(100)}); err != nil {
		t.Fatalf("stake vault: %v", err)
	}
	if err := mgr.SalePut(testSale(id)); err != nil {
		t.Fatalf("put with stake: %v", err)
	}

	mgr.SetStorageQuota(nil)
	if err := mgr.SalePut(testSale(id)); err != nil {
		t.Fatalf("put with quota disabled: %v", err)
	}
}

func TestAccountRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	addr := []byte{0x01, 0x02, 0x03}

	acc, err := mgr.GetAccount(addr)
	if err != nil {
		t.Fatalf("get fresh account: %v", err)
	}
	if acc.BalanceMCT.Sign() != 0 || acc.Stake.Sign() != 0 {
		t.Fatalf("fresh account not zeroed: %+v", acc)
	}

	acc.Nonce = 7
	acc.BalanceMCT = big.NewInt(1234)
	if err := mgr.PutAccount(addr, acc); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	fresh := NewManager(db)
	got, err := fresh.GetAccount(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Nonce != 7 || got.BalanceMCT.Cmp(big.NewInt(1234)) != 0 {
		t.Fatalf("account mismatch: %+v", got)
	}
}

func TestSaleVaultAddressIsStable(t *testing.T) {
	a := NewManager(storage.NewMemDB()).SaleVaultAddress()
	b := NewManager(storage.NewMemDB()).SaleVaultAddress()
	if a != b {
		t.Fatalf("vault address not deterministic")
	}
	if a == ([20]byte{}) {
		t.Fatalf("vault address is zero")
	}
}
