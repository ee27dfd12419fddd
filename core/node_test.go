package core

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"srpchain/core/types"
	"srpchain/crypto"
	"srpchain/native/sale"
	"srpchain/storage"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	return NewNode(storage.NewMemDB(), nil)
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func mintOrFail(t *testing.T, node *Node, addr [20]byte, amount int64) {
	t.Helper()
	if err := node.Mint(addr, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func createTestSale(t *testing.T, node *Node, seller [20]byte, price int64) [32]byte {
	t.Helper()
	deposit := big.NewInt(2 * price)
	id, err := node.TokenTransfer(seller, node.SaleVaultAddress(), deposit, 1,
		[]string{"createSale", "", big.NewInt(price).String(), "item"})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	return id
}

func depositTestSale(t *testing.T, node *Node, buyer [20]byte, id [32]byte, amount int64) {
	t.Helper()
	_, err := node.TokenTransfer(buyer, node.SaleVaultAddress(), big.NewInt(amount), 2,
		[]string{"buyerDeposit", "0x" + hex.EncodeToString(id[:])})
	if err != nil {
		t.Fatalf("buyer deposit: %v", err)
	}
}

func TestTokenTransferPlain(t *testing.T) {
	node := newTestNode(t)
	from := testAddr(0x01)
	to := testAddr(0x02)
	mintOrFail(t, node, from, 500)

	if _, err := node.TokenTransfer(from, to, big.NewInt(200), 1, nil); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	fromAcc, _ := node.Balance(from)
	toAcc, _ := node.Balance(to)
	if fromAcc.BalanceMCT.Cmp(big.NewInt(300)) != 0 || toAcc.BalanceMCT.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("balances after transfer: from=%s to=%s", fromAcc.BalanceMCT, toAcc.BalanceMCT)
	}
}

func TestTokenTransferCreateSale(t *testing.T) {
	node := newTestNode(t)
	seller := testAddr(0x01)
	mintOrFail(t, node, seller, 2000)

	id := createTestSale(t, node, seller, 1000)

	got, err := node.SaleGet(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != sale.SaleNew || got.Seller != seller {
		t.Fatalf("created sale mismatch: %+v", got)
	}
	balance, err := node.SaleBalance(id)
	if err != nil {
		t.Fatalf("custody balance: %v", err)
	}
	if balance.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("custody balance %s, want 2000", balance)
	}
}

func TestTokenTransferRejectionRollsBack(t *testing.T) {
	node := newTestNode(t)
	seller := testAddr(0x01)
	mintOrFail(t, node, seller, 5000)

	// Deposit does not match 2x the declared price.
	_, err := node.TokenTransfer(seller, node.SaleVaultAddress(), big.NewInt(1999), 1,
		[]string{"createSale", "", "1000", "item"})
	if !errors.Is(err, sale.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	acc, _ := node.Balance(seller)
	if acc.BalanceMCT.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("seller balance changed on rejected invocation: %s", acc.BalanceMCT)
	}

	evts := node.Events(1)
	if len(evts) != 1 || evts[0].Type != sale.EventTypeSaleError {
		t.Fatalf("expected a sale.error event, got %v", evts)
	}
	if evts[0].Attributes["op"] != "onTokenTransfer" {
		t.Fatalf("error event op: %v", evts[0].Attributes)
	}
}

func TestTokenTransferUnknownSubOp(t *testing.T) {
	node := newTestNode(t)
	seller := testAddr(0x01)
	mintOrFail(t, node, seller, 2000)

	_, err := node.TokenTransfer(seller, node.SaleVaultAddress(), big.NewInt(2000), 1,
		[]string{"liquidate"})
	if !errors.Is(err, sale.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	node := newTestNode(t)
	seller := testAddr(0x01)
	buyer := testAddr(0x02)
	mintOrFail(t, node, seller, 2000)
	mintOrFail(t, node, buyer, 2000)

	id := createTestSale(t, node, seller, 1000)
	depositTestSale(t, node, buyer, id, 2000)

	if err := node.SaleConfirmShipment(id, seller); err != nil {
		t.Fatalf("confirm shipment: %v", err)
	}
	if err := node.SaleConfirmReceived(id, buyer); err != nil {
		t.Fatalf("confirm received: %v", err)
	}

	buyerAcc, _ := node.Balance(buyer)
	sellerAcc, _ := node.Balance(seller)
	if buyerAcc.BalanceMCT.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("buyer ends with %s, want 1000", buyerAcc.BalanceMCT)
	}
	if sellerAcc.BalanceMCT.Cmp(big.NewInt(3000)) != 0 {
		t.Fatalf("seller ends with %s, want 3000", sellerAcc.BalanceMCT)
	}
	if _, err := node.SaleGet(id); !errors.Is(err, sale.ErrNotFound) {
		t.Fatalf("expected settled sale deleted, got %v", err)
	}
}

func TestCancelLifecycle(t *testing.T) {
	node := newTestNode(t)
	seller := testAddr(0x01)
	mintOrFail(t, node, seller, 1000)

	id := createTestSale(t, node, seller, 500)
	if err := node.SaleDelete(id, seller); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	acc, _ := node.Balance(seller)
	if acc.BalanceMCT.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("seller refund %s, want 1000", acc.BalanceMCT)
	}
	if _, err := node.SaleGet(id); !errors.Is(err, sale.ErrNotFound) {
		t.Fatalf("expected cancelled sale deleted, got %v", err)
	}
}

func TestConfirmShipmentWrongCaller(t *testing.T) {
	node := newTestNode(t)
	seller := testAddr(0x01)
	buyer := testAddr(0x02)
	mintOrFail(t, node, seller, 2000)
	mintOrFail(t, node, buyer, 2000)

	id := createTestSale(t, node, seller, 1000)
	depositTestSale(t, node, buyer, id, 2000)

	if err := node.SaleConfirmShipment(id, buyer); !errors.Is(err, sale.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	got, err := node.SaleGet(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != sale.SaleAwaitingShipment {
		t.Fatalf("status changed on rejected call: %q", got.Status)
	}
}

func TestOwnerStakeFundsStorageQuota(t *testing.T) {
	node := newTestNode(t)
	owner := testAddr(0xEE)
	seller := testAddr(0x01)
	node.SetOwner(owner)
	node.SetStorageQuota(big.NewInt(100))
	mintOrFail(t, node, owner, 100)
	mintOrFail(t, node, seller, 2000)

	// Quota unmet: sale writes are refused.
	_, err := node.TokenTransfer(seller, node.SaleVaultAddress(), big.NewInt(2000), 1,
		[]string{"createSale", "", "1000", "item"})
	if !errors.Is(err, sale.ErrPersistence) {
		t.Fatalf("expected persistence error before staking, got %v", err)
	}

	// Owner transfer to the vault stakes storage instead of creating a sale.
	if _, err := node.TokenTransfer(owner, node.SaleVaultAddress(), big.NewInt(100), 2, nil); err != nil {
		t.Fatalf("stake: %v", err)
	}

	if _, err := node.TokenTransfer(seller, node.SaleVaultAddress(), big.NewInt(2000), 3,
		[]string{"createSale", "", "1000", "item"}); err != nil {
		t.Fatalf("create after staking: %v", err)
	}
}

func signedTestKey(t *testing.T) (*crypto.PrivateKey, [20]byte) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key, key.PubKey().Address().Fixed()
}

func signedTransferTx(t *testing.T, key *crypto.PrivateKey, to [20]byte, amount int64, nonce uint64, subArgs []string) *types.Transaction {
	t.Helper()
	payload, err := json.Marshal(struct {
		SubArgs []string `json:"subArgs"`
	}{subArgs})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	tx := &types.Transaction{
		Type:  types.TxTypeTransfer,
		Nonce: nonce,
		To:    to[:],
		Value: big.NewInt(amount),
		Data:  payload,
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func signedSaleTx(t *testing.T, key *crypto.PrivateKey, txType types.TxType, id [32]byte, nonce uint64) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{Type: txType, Nonce: nonce, Data: id[:]}
	if err := tx.Sign(key.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func TestSubmitTransactionSignedLifecycle(t *testing.T) {
	node := newTestNode(t)
	sellerKey, seller := signedTestKey(t)
	buyerKey, buyer := signedTestKey(t)
	mintOrFail(t, node, seller, 2000)
	mintOrFail(t, node, buyer, 2000)
	vault := node.SaleVaultAddress()

	id, err := node.SubmitTransaction(signedTransferTx(t, sellerKey, vault, 2000, 1,
		[]string{"createSale", "", "1000", "item"}))
	if err != nil {
		t.Fatalf("signed create: %v", err)
	}
	got, err := node.SaleGet(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Seller != seller {
		t.Fatalf("seller not recovered from signature: %x", got.Seller)
	}

	if _, err := node.SubmitTransaction(signedTransferTx(t, buyerKey, vault, 2000, 2,
		[]string{"buyerDeposit", "0x" + hex.EncodeToString(id[:])})); err != nil {
		t.Fatalf("signed deposit: %v", err)
	}
	if _, err := node.SubmitTransaction(signedSaleTx(t, sellerKey, types.TxTypeConfirmShipment, id, 3)); err != nil {
		t.Fatalf("signed shipment: %v", err)
	}
	if _, err := node.SubmitTransaction(signedSaleTx(t, buyerKey, types.TxTypeConfirmReceived, id, 4)); err != nil {
		t.Fatalf("signed receipt: %v", err)
	}

	buyerAcc, _ := node.Balance(buyer)
	sellerAcc, _ := node.Balance(seller)
	if buyerAcc.BalanceMCT.Cmp(big.NewInt(1000)) != 0 || sellerAcc.BalanceMCT.Cmp(big.NewInt(3000)) != 0 {
		t.Fatalf("settlement balances: buyer=%s seller=%s", buyerAcc.BalanceMCT, sellerAcc.BalanceMCT)
	}
}

func TestSubmitTransactionSignerIsTheWitness(t *testing.T) {
	node := newTestNode(t)
	sellerKey, seller := signedTestKey(t)
	strangerKey, _ := signedTestKey(t)
	mintOrFail(t, node, seller, 2000)
	vault := node.SaleVaultAddress()

	id, err := node.SubmitTransaction(signedTransferTx(t, sellerKey, vault, 2000, 1,
		[]string{"createSale", "", "1000", "item"}))
	if err != nil {
		t.Fatalf("signed create: %v", err)
	}

	// A cancellation signed by anyone but the seller is refused.
	_, err = node.SubmitTransaction(signedSaleTx(t, strangerKey, types.TxTypeDeleteSale, id, 2))
	if !errors.Is(err, sale.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for foreign signer, got %v", err)
	}
	if _, err := node.SubmitTransaction(signedSaleTx(t, sellerKey, types.TxTypeDeleteSale, id, 3)); err != nil {
		t.Fatalf("seller-signed cancel: %v", err)
	}
}

func TestSubmitTransactionRejectsMalformed(t *testing.T) {
	node := newTestNode(t)
	key, addr := signedTestKey(t)
	mintOrFail(t, node, addr, 2000)

	if _, err := node.SubmitTransaction(nil); !errors.Is(err, sale.ErrValidation) {
		t.Fatalf("nil transaction: %v", err)
	}

	unsigned := &types.Transaction{Type: types.TxTypeConfirmShipment, Data: make([]byte, 32)}
	if _, err := node.SubmitTransaction(unsigned); !errors.Is(err, sale.ErrValidation) {
		t.Fatalf("unsigned transaction: %v", err)
	}

	badType := &types.Transaction{Type: types.TxType(0x7F)}
	if err := badType.Sign(key.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := node.SubmitTransaction(badType); !errors.Is(err, sale.ErrValidation) {
		t.Fatalf("unsupported type: %v", err)
	}

	shortData := &types.Transaction{Type: types.TxTypeConfirmShipment, Data: []byte{0x01}}
	if err := shortData.Sign(key.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := node.SubmitTransaction(shortData); !errors.Is(err, sale.ErrValidation) {
		t.Fatalf("short data: %v", err)
	}
}

func TestSaleWithBalanceSnapshot(t *testing.T) {
	node := newTestNode(t)
	seller := testAddr(0x01)
	buyer := testAddr(0x02)
	mintOrFail(t, node, seller, 2000)
	mintOrFail(t, node, buyer, 2000)

	id := createTestSale(t, node, seller, 1000)
	record, balance, err := node.SaleWithBalance(id)
	if err != nil {
		t.Fatalf("sale with balance: %v", err)
	}
	if record.Status != sale.SaleNew || balance.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("snapshot mismatch: status=%q balance=%s", record.Status, balance)
	}

	depositTestSale(t, node, buyer, id, 2000)
	if err := node.SaleConfirmShipment(id, seller); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if err := node.SaleConfirmReceived(id, buyer); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, _, err := node.SaleWithBalance(id); !errors.Is(err, sale.ErrNotFound) {
		t.Fatalf("expected not found after settlement, got %v", err)
	}
}

type faultyDB struct {
	*storage.MemDB
	failPuts bool
}

func (db *faultyDB) Put(key, value []byte) error {
	if db.failPuts {
		return errors.New("disk full")
	}
	return db.MemDB.Put(key, value)
}

func TestCommitFailureSuppressesSuccessEvents(t *testing.T) {
	db := &faultyDB{MemDB: storage.NewMemDB()}
	node := NewNode(db, nil)
	seller := testAddr(0x01)
	mintOrFail(t, node, seller, 4000)

	db.failPuts = true
	_, err := node.TokenTransfer(seller, node.SaleVaultAddress(), big.NewInt(2000), 1,
		[]string{"createSale", "", "1000", "item"})
	if !errors.Is(err, sale.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if evts := node.Events(0); len(evts) != 0 {
		t.Fatalf("commit failure leaked events: %v", evts)
	}

	db.failPuts = false
	if _, err := node.TokenTransfer(seller, node.SaleVaultAddress(), big.NewInt(2000), 2,
		[]string{"createSale", "", "1000", "item"}); err != nil {
		t.Fatalf("create after recovery: %v", err)
	}
	evts := node.Events(0)
	if len(evts) != 1 || evts[0].Type != sale.EventTypeSaleCreated {
		t.Fatalf("expected one sale.created event after commit, got %v", evts)
	}
}

func TestInvocationIDsDiffer(t *testing.T) {
	node := newTestNode(t)
	seller := testAddr(0x01)
	mintOrFail(t, node, seller, 8000)

	first, err := node.TokenTransfer(seller, node.SaleVaultAddress(), big.NewInt(2000), 1,
		[]string{"createSale", "", "1000", "item"})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := node.TokenTransfer(seller, node.SaleVaultAddress(), big.NewInt(2000), 2,
		[]string{"createSale", "", "1000", "item"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first == second {
		t.Fatalf("distinct invocations produced the same sale id")
	}
}
