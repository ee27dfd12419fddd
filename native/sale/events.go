package sale

import (
	"encoding/hex"
	"math/big"

	"srpchain/core/types"
)

const (
	EventTypeSaleCreated   = "sale.created"
	EventTypeSaleDeposited = "sale.deposited"
	EventTypeSaleShipped   = "sale.shipped"
	EventTypeSaleSettled   = "sale.settled"
	EventTypeSaleCancelled = "sale.cancelled"
	EventTypeSaleError     = "sale.error"
)

// NewErrorEvent returns the payload surfaced through the event channel when
// an invocation is rejected, mirroring the module's application log.
func NewErrorEvent(op, message string) *types.Event {
	return &types.Event{
		Type: EventTypeSaleError,
		Attributes: map[string]string{
			"op":      op,
			"message": message,
		},
	}
}

// NewCreatedEvent returns the canonical event payload for a newly created
// sale.
func NewCreatedEvent(s *Sale) *types.Event { return newSaleEvent(EventTypeSaleCreated, s) }

// NewDepositedEvent returns the canonical event payload emitted when a buyer
// deposit moves a sale into the awaiting-shipment state.
func NewDepositedEvent(s *Sale) *types.Event { return newSaleEvent(EventTypeSaleDeposited, s) }

// NewShippedEvent returns the canonical event payload emitted when the seller
// confirms shipment.
func NewShippedEvent(s *Sale) *types.Event { return newSaleEvent(EventTypeSaleShipped, s) }

// NewSettledEvent returns the canonical event payload for a completed sale,
// including both settlement legs.
func NewSettledEvent(s *Sale, buyerPayout, sellerPayout *big.Int) *types.Event {
	evt := newSaleEvent(EventTypeSaleSettled, s)
	evt.Attributes["buyerPayout"] = formatAmount(buyerPayout)
	evt.Attributes["sellerPayout"] = formatAmount(sellerPayout)
	return evt
}

// NewCancelledEvent returns the canonical event payload emitted when the
// seller cancels a sale before any buyer deposit.
func NewCancelledEvent(s *Sale, refund *big.Int) *types.Event {
	evt := newSaleEvent(EventTypeSaleCancelled, s)
	evt.Attributes["refund"] = formatAmount(refund)
	return evt
}

func newSaleEvent(eventType string, s *Sale) *types.Event {
	attrs := make(map[string]string)
	if s == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeSale(s)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(sanitized.ID[:])
	attrs["seller"] = hex.EncodeToString(sanitized.Seller[:])
	attrs["price"] = sanitized.Price.String()
	attrs["status"] = sanitized.Status.String()
	if !sanitized.Open() {
		attrs["buyer"] = hex.EncodeToString(sanitized.Buyer[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
