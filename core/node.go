package core

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"srpchain/core/events"
	"srpchain/core/state"
	"srpchain/core/types"
	"srpchain/crypto"
	"srpchain/native/sale"
	"srpchain/storage"
)

// Sub-operation names relayed through the token transfer path, matching the
// contract the token ledger invokes on deposit.
const (
	subOpCreateSale   = "createSale"
	subOpBuyerDeposit = "buyerDeposit"
)

// Node owns the state manager, the sale engine, and the event recorder, and
// serializes every invocation behind a single mutex. Each invocation commits
// its state overlay only after the operation fully succeeded, so a failure
// anywhere aborts with no partial effect.
type Node struct {
	mu     sync.Mutex
	logger *slog.Logger
	state  *state.Manager
	engine *sale.Engine
	events *events.Recorder
	owner  [20]byte
}

// NewNode assembles a node over the given database.
func NewNode(db storage.Database, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	mgr := state.NewManager(db)
	engine := sale.NewEngine()
	engine.SetState(mgr)
	return &Node{
		logger: logger,
		state:  mgr,
		engine: engine,
		events: events.NewRecorder(),
	}
}

// SetOwner configures the module owner address. Transfers from the owner to
// the vault stake storage quota instead of creating sales.
func (n *Node) SetOwner(addr [20]byte) { n.owner = addr }

// SetStorageQuota passes the staked-storage minimum through to the state
// manager.
func (n *Node) SetStorageQuota(minStake *big.Int) { n.state.SetStorageQuota(minStake) }

// SaleVaultAddress exposes the custody address so callers can address
// deposits to it.
func (n *Node) SaleVaultAddress() [20]byte { return n.state.SaleVaultAddress() }

type nodeEvent struct {
	evt *types.Event
}

func (e nodeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e nodeEvent) Event() *types.Event { return e.evt }

// run executes fn as one atomic invocation: on success the state overlay is
// committed, on failure it is rolled back and the error is surfaced through
// the event channel as well. Engine events land in a per-invocation buffer
// and reach the public recorder only once the commit succeeded, so the event
// channel never advertises a transition that was rolled back.
func (n *Node) run(op string, fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	buffer := events.NewRecorder()
	n.engine.SetEmitter(buffer)
	defer n.engine.SetEmitter(nil)
	defer n.engine.SetWitness(nil)
	if err := fn(); err != nil {
		n.state.Rollback()
		n.events.Emit(nodeEvent{evt: sale.NewErrorEvent(op, err.Error())})
		n.logger.Warn("invocation rejected", slog.String("op", op), slog.Any("error", err))
		return err
	}
	if err := n.state.Commit(); err != nil {
		n.state.Rollback()
		n.logger.Error("invocation commit failed", slog.String("op", op), slog.Any("error", err))
		return err
	}
	for _, evt := range buffer.Tail(0) {
		n.events.Emit(nodeEvent{evt: evt})
	}
	return nil
}

// witnessFor grants the witness check to exactly one address for the span of
// the current invocation.
func witnessFor(addr [20]byte) sale.WitnessChecker {
	return sale.WitnessFunc(func(a [20]byte) bool { return a == addr })
}

// TokenTransfer applies an MCT transfer and, when the destination is the
// sale vault, relays the attached sub-operation to the sale engine. The
// ledger debit and the sale bookkeeping commit or fail together. The returned
// id is the invocation's content hash; for createSale it is the new sale id.
func (n *Node) TokenTransfer(from, to [20]byte, amount *big.Int, nonce uint64, subArgs []string) ([32]byte, error) {
	var txID [32]byte
	err := n.run("onTokenTransfer", func() error {
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("no funds transferred: %w", sale.ErrValidation)
		}
		id, err := transferInvocationID(from, to, amount, nonce, subArgs)
		if err != nil {
			return err
		}
		txID = id
		if to != n.state.SaleVaultAddress() {
			return n.transferMCT(from, to, amount)
		}
		if from == n.owner && n.owner != ([20]byte{}) {
			// Owner staking MCT for storage quota, nothing else to do here.
			return n.stakeStorage(from, amount)
		}
		n.engine.SetWitness(witnessFor(from))
		return n.dispatchSaleDeposit(txID, from, amount, subArgs)
	})
	return txID, err
}

func (n *Node) dispatchSaleDeposit(txID [32]byte, from [20]byte, amount *big.Int, subArgs []string) error {
	if len(subArgs) < 1 {
		return fmt.Errorf("incorrect secondary arg length: %w", sale.ErrValidation)
	}
	switch subArgs[0] {
	case subOpCreateSale:
		if len(subArgs) != 4 {
			return fmt.Errorf("incorrect arguments to createSale: %w", sale.ErrValidation)
		}
		var buyerPtr *[20]byte
		if trimmed := strings.TrimSpace(subArgs[1]); trimmed != "" {
			buyer, err := crypto.DecodeAddress(trimmed)
			if err != nil {
				return fmt.Errorf("invalid buyer address: %v: %w", err, sale.ErrValidation)
			}
			fixed := buyer.Fixed()
			buyerPtr = &fixed
		}
		price, ok := new(big.Int).SetString(strings.TrimSpace(subArgs[2]), 10)
		if !ok {
			return fmt.Errorf("invalid price: %w", sale.ErrValidation)
		}
		_, err := n.engine.CreateSale(txID, from, buyerPtr, price, []byte(subArgs[3]), amount)
		return err
	case subOpBuyerDeposit:
		if len(subArgs) != 2 {
			return fmt.Errorf("incorrect arguments to buyerDeposit: %w", sale.ErrValidation)
		}
		saleID, err := parseSaleID(subArgs[1])
		if err != nil {
			return err
		}
		return n.engine.BuyerDeposit(saleID, from, amount)
	default:
		return fmt.Errorf("unknown sub-operation %q: %w", subArgs[0], sale.ErrValidation)
	}
}

// SubmitTransaction applies a signed transaction envelope. The caller address
// is recovered from the signature, so the witness granted to the operation is
// cryptographically backed rather than declared.
func (n *Node) SubmitTransaction(tx *types.Transaction) ([32]byte, error) {
	var id [32]byte
	if tx == nil {
		return id, fmt.Errorf("nil transaction: %w", sale.ErrValidation)
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return id, fmt.Errorf("transaction is not signed: %w", sale.ErrValidation)
	}
	sender, err := tx.From()
	if err != nil {
		return id, fmt.Errorf("invalid transaction signature: %v: %w", err, sale.ErrValidation)
	}
	var caller [20]byte
	copy(caller[:], sender)

	switch tx.Type {
	case types.TxTypeTransfer:
		if len(tx.To) != 20 {
			return id, fmt.Errorf("recipient must be 20 bytes: %w", sale.ErrValidation)
		}
		var to [20]byte
		copy(to[:], tx.To)
		var payload struct {
			SubArgs []string `json:"subArgs"`
		}
		if len(tx.Data) > 0 {
			if err := json.Unmarshal(tx.Data, &payload); err != nil {
				return id, fmt.Errorf("invalid transfer payload: %v: %w", err, sale.ErrValidation)
			}
		}
		return n.TokenTransfer(caller, to, tx.Value, tx.Nonce, payload.SubArgs)
	case types.TxTypeConfirmShipment:
		saleID, err := saleIDFromTxData(tx.Data)
		if err != nil {
			return id, err
		}
		return saleID, n.SaleConfirmShipment(saleID, caller)
	case types.TxTypeConfirmReceived:
		saleID, err := saleIDFromTxData(tx.Data)
		if err != nil {
			return id, err
		}
		return saleID, n.SaleConfirmReceived(saleID, caller)
	case types.TxTypeDeleteSale:
		saleID, err := saleIDFromTxData(tx.Data)
		if err != nil {
			return id, err
		}
		return saleID, n.SaleDelete(saleID, caller)
	default:
		return id, fmt.Errorf("unsupported transaction type %d: %w", tx.Type, sale.ErrValidation)
	}
}

func saleIDFromTxData(data []byte) ([32]byte, error) {
	var id [32]byte
	if len(data) != 32 {
		return id, fmt.Errorf("transaction data must be a 32-byte sale id: %w", sale.ErrValidation)
	}
	copy(id[:], data)
	return id, nil
}

// SaleConfirmShipment advances the sale to ShipmentConfirmed on behalf of the
// seller.
func (n *Node) SaleConfirmShipment(id [32]byte, caller [20]byte) error {
	return n.run("confirmShipment", func() error {
		n.engine.SetWitness(witnessFor(caller))
		return n.engine.ConfirmShipment(id, caller)
	})
}

// SaleConfirmReceived settles and deletes the sale on behalf of the buyer.
func (n *Node) SaleConfirmReceived(id [32]byte, caller [20]byte) error {
	return n.run("confirmReceived", func() error {
		n.engine.SetWitness(witnessFor(caller))
		return n.engine.ConfirmReceived(id, caller)
	})
}

// SaleDelete cancels an unclaimed sale on behalf of the seller.
func (n *Node) SaleDelete(id [32]byte, caller [20]byte) error {
	return n.run("deleteSale", func() error {
		n.engine.SetWitness(witnessFor(caller))
		return n.engine.DeleteSale(id, caller)
	})
}

// SaleGet returns the persisted sale record.
func (n *Node) SaleGet(id [32]byte) (*sale.Sale, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Get(id)
}

// SaleBalance returns the MCT held in custody for the sale.
func (n *Node) SaleBalance(id [32]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.SaleBalance(id)
}

// SaleWithBalance returns the sale record together with its custody balance
// under a single lock, so the pair is a consistent snapshot even while other
// invocations settle or cancel sales.
func (n *Node) SaleWithBalance(id [32]byte) (*sale.Sale, *big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	record, err := n.engine.Get(id)
	if err != nil {
		return nil, nil, err
	}
	balance, err := n.state.SaleBalance(id)
	if err != nil {
		return nil, nil, err
	}
	return record, balance, nil
}

// Balance returns the ledger account for addr.
func (n *Node) Balance(addr [20]byte) (*types.Account, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.GetAccount(addr[:])
}

// Mint credits newly issued MCT to addr. Restricted to the authenticated
// operator surface; the production ledger would sit behind the token
// contract instead.
func (n *Node) Mint(addr [20]byte, amount *big.Int) error {
	return n.run("mint", func() error {
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("mint amount must be positive: %w", sale.ErrValidation)
		}
		acc, err := n.state.GetAccount(addr[:])
		if err != nil {
			return err
		}
		acc.BalanceMCT = new(big.Int).Add(acc.BalanceMCT, amount)
		return n.state.PutAccount(addr[:], acc)
	})
}

// Events returns up to limit most recent module events, oldest first.
func (n *Node) Events(limit int) []*types.Event {
	return n.events.Tail(limit)
}

// --- token ledger ---

func (n *Node) transferMCT(from, to [20]byte, amount *big.Int) error {
	fromAcc, err := n.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	if fromAcc.BalanceMCT.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient MCT balance: %w", sale.ErrValidation)
	}
	toAcc, err := n.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc.BalanceMCT = new(big.Int).Sub(fromAcc.BalanceMCT, amount)
	toAcc.BalanceMCT = new(big.Int).Add(toAcc.BalanceMCT, amount)
	if err := n.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return n.state.PutAccount(to[:], toAcc)
}

func (n *Node) stakeStorage(from [20]byte, amount *big.Int) error {
	fromAcc, err := n.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	if fromAcc.BalanceMCT.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient MCT balance: %w", sale.ErrValidation)
	}
	vault := n.state.SaleVaultAddress()
	vaultAcc, err := n.state.GetAccount(vault[:])
	if err != nil {
		return err
	}
	fromAcc.BalanceMCT = new(big.Int).Sub(fromAcc.BalanceMCT, amount)
	vaultAcc.Stake = new(big.Int).Add(vaultAcc.Stake, amount)
	if err := n.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return n.state.PutAccount(vault[:], vaultAcc)
}

// transferInvocationID derives the deterministic identifier for a transfer
// invocation from its full content, via the transaction envelope hash.
func transferInvocationID(from, to [20]byte, amount *big.Int, nonce uint64, subArgs []string) ([32]byte, error) {
	var id [32]byte
	data, err := json.Marshal(struct {
		From    []byte   `json:"from"`
		SubArgs []string `json:"subArgs"`
	}{from[:], subArgs})
	if err != nil {
		return id, err
	}
	tx := &types.Transaction{Type: types.TxTypeTransfer, Nonce: nonce, To: to[:], Value: amount, Data: data}
	hash, err := tx.Hash()
	if err != nil {
		return id, err
	}
	copy(id[:], hash)
	return id, nil
}

func parseSaleID(value string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	if len(trimmed) != 64 {
		return id, fmt.Errorf("sale id must be 32 bytes: %w", sale.ErrValidation)
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("invalid sale id: %v: %w", err, sale.ErrValidation)
	}
	copy(id[:], decoded)
	return id, nil
}
