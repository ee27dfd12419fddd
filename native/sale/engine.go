package sale

import (
	"errors"
	"fmt"
	"math/big"

	"srpchain/core/events"
	"srpchain/core/types"
)

var errNilState = errors.New("sale engine: state not configured")

// settlementMultiple is the total escrowed per sale once both parties have
// deposited: 2x price from the seller plus 2x price from the buyer.
const settlementMultiple = 4

type engineState interface {
	SalePut(*Sale) error
	SaleGet(id [32]byte) (*Sale, bool, error)
	SaleDelete(id [32]byte) error
	SaleCredit(id [32]byte, amt *big.Int) error
	SaleDebit(id [32]byte, amt *big.Int) error
	SaleBalance(id [32]byte) (*big.Int, error)
	SaleVaultAddress() [20]byte
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type saleEvent struct {
	evt *types.Event
}

func (e saleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e saleEvent) Event() *types.Event { return e.evt }

// Engine drives the sale lifecycle state machine over an injected state
// backend. Every operation either fully applies or returns an error having
// made no observable change; the node commits or rolls back the state overlay
// at the invocation boundary accordingly.
type Engine struct {
	state   engineState
	emitter events.Emitter
	witness WitnessChecker
}

// NewEngine creates a sale engine with a no-op emitter and a denying witness.
// Callers configure both via the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		witness: WitnessFunc(func([20]byte) bool { return false }),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetWitness configures the witness checker covering the next invocation.
// Passing nil resets to a denying checker.
func (e *Engine) SetWitness(witness WitnessChecker) {
	if witness == nil {
		e.witness = WitnessFunc(func([20]byte) bool { return false })
		return
	}
	e.witness = witness
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(saleEvent{evt: event})
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{BalanceMCT: big.NewInt(0), Stake: big.NewInt(0)}
	}
	if acc.BalanceMCT == nil {
		acc.BalanceMCT = big.NewInt(0)
	}
	if acc.Stake == nil {
		acc.Stake = big.NewInt(0)
	}
	return acc
}

func (e *Engine) loadSale(id [32]byte) (*Sale, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	s, ok, err := e.state.SaleGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no sale under id %x: %w", id, ErrNotFound)
	}
	return s, nil
}

func (e *Engine) storeSale(s *Sale) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.SalePut(s)
}

// transferMCT moves spendable balance between two ledger accounts. Amounts
// must be positive; zero transfers are a no-op.
func (e *Engine) transferMCT(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("negative transfer amount: %w", ErrValidation)
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.BalanceMCT.Cmp(amt) < 0 {
		return fmt.Errorf("insufficient MCT balance: %w", ErrValidation)
	}
	fromAcc.BalanceMCT = new(big.Int).Sub(fromAcc.BalanceMCT, amt)
	toAcc.BalanceMCT = new(big.Int).Add(toAcc.BalanceMCT, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// CreateSale persists a new sale in the New state, pulling the seller's 2x
// deposit into module custody. The id is the content hash of the transfer
// invocation; creating twice under the same id fails.
func (e *Engine) CreateSale(id [32]byte, seller [20]byte, buyerOpt *[20]byte, price *big.Int, description []byte, deposit *big.Int) (*Sale, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("must set a price > 0: %w", ErrValidation)
	}
	if err := verifyDeposit(deposit, depositMultiple, price); err != nil {
		return nil, fmt.Errorf("seller deposit: %w", err)
	}
	if _, ok, err := e.state.SaleGet(id); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("sale %x already exists: %w", id, ErrValidation)
	}
	buyer := [20]byte{}
	if buyerOpt != nil {
		buyer = *buyerOpt
	}
	s := &Sale{
		ID:          id,
		Seller:      seller,
		Buyer:       buyer,
		Price:       cloneBigInt(price),
		Description: append([]byte(nil), description...),
		Status:      SaleNew,
	}
	vault := e.state.SaleVaultAddress()
	if err := e.transferMCT(seller, vault, deposit); err != nil {
		return nil, err
	}
	if err := e.state.SaleCredit(id, deposit); err != nil {
		return nil, err
	}
	if err := e.storeSale(s); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(s))
	return s.Clone(), nil
}

// BuyerDeposit records the buyer's 2x deposit and advances the sale to
// AwaitingShipment. On an open sale the depositor becomes the buyer; on a
// designated sale the depositor must be that buyer and hold a witness. The
// ledger debit and the sale bookkeeping commit together: a precondition
// failure here leaves the depositor's funds untouched.
func (e *Engine) BuyerDeposit(id [32]byte, depositor [20]byte, deposit *big.Int) error {
	s, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if s.Status != SaleNew {
		return fmt.Errorf("cannot deposit in state %q: %w", s.Status, ErrInvalidState)
	}
	if err := verifyDeposit(deposit, depositMultiple, s.Price); err != nil {
		return fmt.Errorf("buyer deposit: %w", err)
	}
	if s.Open() {
		s.Buyer = depositor // open sale claimed by first depositor
	} else {
		if depositor != s.Buyer || !e.checkWitness(depositor) {
			return fmt.Errorf("must be listed buyer to place deposit: %w", ErrUnauthorized)
		}
	}
	vault := e.state.SaleVaultAddress()
	if err := e.transferMCT(depositor, vault, deposit); err != nil {
		return err
	}
	if err := e.state.SaleCredit(id, deposit); err != nil {
		return err
	}
	s.Status = SaleAwaitingShipment
	if err := e.storeSale(s); err != nil {
		return err
	}
	e.emit(NewDepositedEvent(s))
	return nil
}

// ConfirmShipment marks the sale as shipped. Seller-only; no funds move.
func (e *Engine) ConfirmShipment(id [32]byte, caller [20]byte) error {
	s, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if s.Status != SaleAwaitingShipment {
		return fmt.Errorf("cannot confirm shipment in state %q: %w", s.Status, ErrInvalidState)
	}
	if !e.isSeller(s, caller) {
		return fmt.Errorf("must be seller to confirm shipment: %w", ErrUnauthorized)
	}
	s.Status = SaleShipmentConfirmed
	if err := e.storeSale(s); err != nil {
		return err
	}
	e.emit(NewShippedEvent(s))
	return nil
}

// ConfirmReceived settles the sale: the buyer recovers their deposit minus
// the item price, the seller recovers their deposit plus the item price, and
// the record is deleted. The two payouts drain exactly the 4x price held in
// custody for the sale.
func (e *Engine) ConfirmReceived(id [32]byte, caller [20]byte) error {
	s, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if s.Status != SaleShipmentConfirmed {
		return fmt.Errorf("cannot confirm receipt in state %q: %w", s.Status, ErrInvalidState)
	}
	if !e.isBuyer(s, caller) {
		return fmt.Errorf("must be buyer to complete the sale: %w", ErrUnauthorized)
	}
	vault := e.state.SaleVaultAddress()
	buyerPayout := cloneBigInt(s.Price)
	sellerPayout := new(big.Int).Mul(s.Price, big.NewInt(3))
	total := new(big.Int).Mul(s.Price, big.NewInt(settlementMultiple))
	if err := e.transferMCT(vault, s.Buyer, buyerPayout); err != nil {
		return err
	}
	if err := e.transferMCT(vault, s.Seller, sellerPayout); err != nil {
		return err
	}
	if err := e.state.SaleDebit(id, total); err != nil {
		return err
	}
	if err := e.state.SaleDelete(id); err != nil {
		return err
	}
	e.emit(NewSettledEvent(s, buyerPayout, sellerPayout))
	return nil
}

// DeleteSale cancels a sale that has received no buyer deposit, refunding the
// seller's 2x deposit and deleting the record. Once a buyer has committed
// funds the seller is economically bound to ship and cancellation is
// rejected.
func (e *Engine) DeleteSale(id [32]byte, caller [20]byte) error {
	s, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if s.Status != SaleNew {
		return fmt.Errorf("cannot cancel sale post-buyer-deposit: %w", ErrInvalidState)
	}
	if !e.isSeller(s, caller) {
		return fmt.Errorf("must be seller to cancel the sale: %w", ErrUnauthorized)
	}
	refund := new(big.Int).Mul(s.Price, big.NewInt(depositMultiple))
	vault := e.state.SaleVaultAddress()
	if err := e.transferMCT(vault, s.Seller, refund); err != nil {
		return err
	}
	if err := e.state.SaleDebit(id, refund); err != nil {
		return err
	}
	if err := e.state.SaleDelete(id); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(s, refund))
	return nil
}

// Get returns a copy of the persisted sale.
func (e *Engine) Get(id [32]byte) (*Sale, error) {
	s, err := e.loadSale(id)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}
