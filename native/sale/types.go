package sale

import (
	"fmt"
	"math/big"
)

// SaleStatus represents the lifecycle states of a safe remote purchase.
// Completion and cancellation are terminal and expressed by deleting the
// record, so no settled/cancelled status exists.
type SaleStatus uint8

const (
	SaleNew SaleStatus = iota
	SaleAwaitingShipment
	SaleShipmentConfirmed
)

// Sale captures the persisted state of a single escrowed trade. The
// identifier is the content hash of the transfer invocation that created it
// and never changes afterwards.
type Sale struct {
	ID          [32]byte
	Seller      [20]byte
	Buyer       [20]byte
	Price       *big.Int
	Description []byte
	Status      SaleStatus
}

// Clone returns a deep copy of the sale so callers can safely mutate the copy
// without affecting the stored instance.
func (s *Sale) Clone() *Sale {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Price != nil {
		clone.Price = new(big.Int).Set(s.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	clone.Description = append([]byte(nil), s.Description...)
	return &clone
}

// Open reports whether the sale has no designated buyer yet, meaning any
// depositor may claim it.
func (s *Sale) Open() bool {
	return s != nil && s.Buyer == ([20]byte{})
}

// Valid reports whether the status value is within the supported range.
func (s SaleStatus) Valid() bool {
	switch s {
	case SaleNew, SaleAwaitingShipment, SaleShipmentConfirmed:
		return true
	default:
		return false
	}
}

// String renders the status the way the query surface reports it.
func (s SaleStatus) String() string {
	switch s {
	case SaleNew:
		return "new"
	case SaleAwaitingShipment:
		return "awaiting shipment"
	case SaleShipmentConfirmed:
		return "shipment confirmed"
	default:
		return "unknown"
	}
}

// SanitizeSale validates the supplied sale definition, returning a cloned
// instance with a non-nil price. The function does not mutate the original
// value.
func SanitizeSale(s *Sale) (*Sale, error) {
	if s == nil {
		return nil, fmt.Errorf("nil sale")
	}
	clone := s.Clone()
	if clone.Price.Sign() <= 0 {
		return nil, fmt.Errorf("sale price must be positive")
	}
	if clone.Seller == ([20]byte{}) {
		return nil, fmt.Errorf("sale seller must be set")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid sale status: %d", clone.Status)
	}
	return clone, nil
}
