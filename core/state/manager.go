package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"srpchain/core/types"
	"srpchain/native/sale"
	"srpchain/storage"
)

// Manager mediates all reads and writes between the node and the key-value
// store. Writes land in an in-memory overlay first; the node calls Commit
// after a successful invocation or Rollback after a failed one, so a single
// invocation never leaves a partial transition behind.
type Manager struct {
	db            storage.Database
	dirty         map[string][]byte
	deleted       map[string]struct{}
	requiredStake *big.Int
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

// SetStorageQuota configures the minimum stake the module vault must hold
// before sale records may be written. A nil quota disables the check.
func (m *Manager) SetStorageQuota(minStake *big.Int) {
	if minStake == nil || minStake.Sign() <= 0 {
		m.requiredStake = nil
		return
	}
	m.requiredStake = new(big.Int).Set(minStake)
}

func saleKey(id [32]byte) []byte {
	return ethcrypto.Keccak256(salePrefix, id[:])
}

func saleVaultKey(id [32]byte) []byte {
	return ethcrypto.Keccak256(saleVaultPrefix, id[:])
}

func accountKey(addr []byte) []byte {
	return ethcrypto.Keccak256(accountPrefix, addr)
}

// --- overlay ---

func (m *Manager) read(key []byte) ([]byte, bool, error) {
	k := string(key)
	if _, gone := m.deleted[k]; gone {
		return nil, false, nil
	}
	if val, ok := m.dirty[k]; ok {
		return val, true, nil
	}
	val, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (m *Manager) write(key, value []byte) {
	k := string(key)
	delete(m.deleted, k)
	m.dirty[k] = append([]byte(nil), value...)
}

func (m *Manager) remove(key []byte) {
	k := string(key)
	delete(m.dirty, k)
	m.deleted[k] = struct{}{}
}

// Commit flushes all buffered writes to the backing store. A flush failure is
// reported as a persistence failure; the overlay is kept so the caller can
// still roll back.
func (m *Manager) Commit() error {
	for k := range m.deleted {
		if err := m.db.Delete([]byte(k)); err != nil {
			return fmt.Errorf("delete %x: %v: %w", k, err, sale.ErrPersistence)
		}
	}
	for k, v := range m.dirty {
		if err := m.db.Put([]byte(k), v); err != nil {
			return fmt.Errorf("put %x: %v: %w", k, err, sale.ErrPersistence)
		}
	}
	m.dirty = make(map[string][]byte)
	m.deleted = make(map[string]struct{})
	return nil
}

// Rollback discards all buffered writes.
func (m *Manager) Rollback() {
	m.dirty = make(map[string][]byte)
	m.deleted = make(map[string]struct{})
}

// --- sale store ---

// storedSale is the persisted wire form of a sale record.
type storedSale struct {
	ID          [32]byte
	Seller      [20]byte
	Buyer       [20]byte
	Price       *big.Int
	Description []byte
	Status      uint8
}

// SalePut sanitizes and writes the sale record under its namespaced key,
// enforcing the storage stake quota when one is configured.
func (m *Manager) SalePut(s *sale.Sale) error {
	sanitized, err := sale.SanitizeSale(s)
	if err != nil {
		return fmt.Errorf("%v: %w", err, sale.ErrValidation)
	}
	if err := m.checkStorageQuota(); err != nil {
		return err
	}
	record := &storedSale{
		ID:          sanitized.ID,
		Seller:      sanitized.Seller,
		Buyer:       sanitized.Buyer,
		Price:       sanitized.Price,
		Description: sanitized.Description,
		Status:      uint8(sanitized.Status),
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return fmt.Errorf("encode sale: %v: %w", err, sale.ErrPersistence)
	}
	m.write(saleKey(sanitized.ID), encoded)
	return nil
}

// SaleGet loads and decodes the record stored under id. Absence is reported
// via the boolean; a decoded record whose embedded id differs from the
// requested key fails the corruption check.
func (m *Manager) SaleGet(id [32]byte) (*sale.Sale, bool, error) {
	data, ok, err := m.read(saleKey(id))
	if err != nil {
		return nil, false, fmt.Errorf("load sale: %v: %w", err, sale.ErrPersistence)
	}
	if !ok || len(data) == 0 {
		return nil, false, nil
	}
	record := new(storedSale)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, false, fmt.Errorf("decode sale %x: %v: %w", id, err, sale.ErrCorrupted)
	}
	if record.ID != id {
		return nil, false, fmt.Errorf("sale data under %x claims id %x: %w", id, record.ID, sale.ErrCorrupted)
	}
	return &sale.Sale{
		ID:          record.ID,
		Seller:      record.Seller,
		Buyer:       record.Buyer,
		Price:       record.Price,
		Description: record.Description,
		Status:      sale.SaleStatus(record.Status),
	}, true, nil
}

// SaleDelete removes the sale record and its custody entry.
func (m *Manager) SaleDelete(id [32]byte) error {
	m.remove(saleKey(id))
	m.remove(saleVaultKey(id))
	return nil
}

func (m *Manager) checkStorageQuota() error {
	if m.requiredStake == nil {
		return nil
	}
	vault := m.SaleVaultAddress()
	acc, err := m.GetAccount(vault[:])
	if err != nil {
		return err
	}
	if acc.Stake == nil || acc.Stake.Cmp(m.requiredStake) < 0 {
		return fmt.Errorf("storage stake quota not met (need %s): %w", m.requiredStake, sale.ErrPersistence)
	}
	return nil
}

// --- custody ledger ---

func (m *Manager) saleBalance(id [32]byte) (*big.Int, error) {
	data, ok, err := m.read(saleVaultKey(id))
	if err != nil {
		return nil, fmt.Errorf("load custody balance: %v: %w", err, sale.ErrPersistence)
	}
	if !ok || len(data) == 0 {
		return big.NewInt(0), nil
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, fmt.Errorf("decode custody balance %x: %v: %w", id, err, sale.ErrCorrupted)
	}
	return balance, nil
}

func (m *Manager) writeSaleBalance(id [32]byte, balance *big.Int) error {
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return fmt.Errorf("encode custody balance: %v: %w", err, sale.ErrPersistence)
	}
	m.write(saleVaultKey(id), encoded)
	return nil
}

// SaleCredit attributes amt of the vault's holdings to the given sale.
func (m *Manager) SaleCredit(id [32]byte, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("negative custody credit: %w", sale.ErrValidation)
	}
	if amt.Sign() == 0 {
		return nil
	}
	current, err := m.saleBalance(id)
	if err != nil {
		return err
	}
	return m.writeSaleBalance(id, new(big.Int).Add(current, amt))
}

// SaleDebit releases amt of the sale's custody attribution. Debiting more
// than is held fails, which catches settlement arithmetic errors before any
// payout leg can overdraw.
func (m *Manager) SaleDebit(id [32]byte, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("negative custody debit: %w", sale.ErrValidation)
	}
	if amt.Sign() == 0 {
		return nil
	}
	current, err := m.saleBalance(id)
	if err != nil {
		return err
	}
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("custody debit %s exceeds held %s: %w", amt, current, sale.ErrValidation)
	}
	return m.writeSaleBalance(id, new(big.Int).Sub(current, amt))
}

// SaleBalance returns the MCT currently held in custody for the sale.
func (m *Manager) SaleBalance(id [32]byte) (*big.Int, error) {
	balance, err := m.saleBalance(id)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(balance), nil
}

// SaleVaultAddress returns the deterministic custody address holding all
// escrowed deposits.
func (m *Manager) SaleVaultAddress() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256(vaultSeed)[12:])
	return addr
}

// --- accounts ---

// GetAccount loads the ledger entry for addr, returning a zeroed account
// when none exists yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	data, ok, err := m.read(accountKey(addr))
	if err != nil {
		return nil, fmt.Errorf("load account: %v: %w", err, sale.ErrPersistence)
	}
	if !ok || len(data) == 0 {
		return &types.Account{BalanceMCT: big.NewInt(0), Stake: big.NewInt(0)}, nil
	}
	record := new(storedAccount)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, fmt.Errorf("decode account %x: %v: %w", addr, err, sale.ErrCorrupted)
	}
	return &types.Account{Nonce: record.Nonce, BalanceMCT: record.BalanceMCT, Stake: record.Stake}, nil
}

type storedAccount struct {
	Nonce      uint64
	BalanceMCT *big.Int
	Stake      *big.Int
}

// PutAccount writes the ledger entry for addr.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("nil account: %w", sale.ErrValidation)
	}
	record := &storedAccount{
		Nonce:      account.Nonce,
		BalanceMCT: account.BalanceMCT,
		Stake:      account.Stake,
	}
	if record.BalanceMCT == nil {
		record.BalanceMCT = big.NewInt(0)
	}
	if record.Stake == nil {
		record.Stake = big.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return fmt.Errorf("encode account: %v: %w", err, sale.ErrPersistence)
	}
	m.write(accountKey(addr), encoded)
	return nil
}
