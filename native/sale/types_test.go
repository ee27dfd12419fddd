package sale

import (
	"math/big"
	"testing"
)

func TestSaleCloneIsIndependent(t *testing.T) {
	original := &Sale{
		ID:          newTestID(0x01),
		Seller:      newTestAddress(0x02),
		Price:       big.NewInt(1000),
		Description: []byte("item"),
		Status:      SaleNew,
	}
	clone := original.Clone()
	clone.Price.SetInt64(5)
	clone.Description[0] = 'x'
	clone.Status = SaleShipmentConfirmed

	if original.Price.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("clone shares price with original")
	}
	if string(original.Description) != "item" {
		t.Fatalf("clone shares description with original")
	}
	if original.Status != SaleNew {
		t.Fatalf("clone shares status with original")
	}
}

func TestSanitizeSale(t *testing.T) {
	base := func() *Sale {
		return &Sale{
			ID:     newTestID(0x01),
			Seller: newTestAddress(0x02),
			Price:  big.NewInt(100),
			Status: SaleNew,
		}
	}

	if _, err := SanitizeSale(base()); err != nil {
		t.Fatalf("valid sale rejected: %v", err)
	}
	if _, err := SanitizeSale(nil); err == nil {
		t.Fatalf("nil sale accepted")
	}

	noPrice := base()
	noPrice.Price = big.NewInt(0)
	if _, err := SanitizeSale(noPrice); err == nil {
		t.Fatalf("zero price accepted")
	}

	noSeller := base()
	noSeller.Seller = [20]byte{}
	if _, err := SanitizeSale(noSeller); err == nil {
		t.Fatalf("zero seller accepted")
	}

	badStatus := base()
	badStatus.Status = SaleStatus(99)
	if _, err := SanitizeSale(badStatus); err == nil {
		t.Fatalf("invalid status accepted")
	}
}

func TestSaleStatusString(t *testing.T) {
	cases := map[SaleStatus]string{
		SaleNew:               "new",
		SaleAwaitingShipment:  "awaiting shipment",
		SaleShipmentConfirmed: "shipment confirmed",
		SaleStatus(42):        "unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("status %d: got %q, want %q", status, got, want)
		}
	}
}

func TestOpen(t *testing.T) {
	s := &Sale{Seller: newTestAddress(0x01), Price: big.NewInt(1)}
	if !s.Open() {
		t.Fatalf("sale without buyer should be open")
	}
	s.Buyer = newTestAddress(0x02)
	if s.Open() {
		t.Fatalf("sale with buyer should not be open")
	}
}
