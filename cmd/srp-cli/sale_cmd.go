package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"srpchain/core/types"
	"srpchain/crypto"
)

var saleRPCCall = callRPC

func runSaleCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, saleUsage())
		return 1
	}

	switch args[0] {
	case "create":
		return runSaleCreate(args[1:], stdout, stderr)
	case "deposit":
		return runSaleDeposit(args[1:], stdout, stderr)
	case "confirm-shipment":
		return runSaleCall(args[1:], stdout, stderr, "sale confirm-shipment", "sale_confirmShipment", types.TxTypeConfirmShipment)
	case "confirm-received":
		return runSaleCall(args[1:], stdout, stderr, "sale confirm-received", "sale_confirmReceived", types.TxTypeConfirmReceived)
	case "cancel":
		return runSaleCall(args[1:], stdout, stderr, "sale cancel", "sale_delete", types.TxTypeDeleteSale)
	case "get":
		return runSaleGet(args[1:], stdout, stderr)
	case "events":
		return runSaleEvents(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown sale subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, saleUsage())
		return 1
	}
}

func runSaleCreate(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale create", stderr)
	var (
		seller      string
		buyer       string
		priceStr    string
		description string
		nonce       uint64
	)
	fs.StringVar(&seller, "seller", "", "seller bech32 address")
	fs.StringVar(&buyer, "buyer", "", "optional buyer bech32 address (empty lists the sale openly)")
	fs.StringVar(&priceStr, "price", "", "item price in MCT")
	fs.StringVar(&description, "description", "", "item description")
	fs.Uint64Var(&nonce, "nonce", 0, "unique nonce for this transfer")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if seller == "" {
		return printSaleError(stderr, "--seller is required")
	}
	price, err := parseSaleAmount(priceStr, "--price")
	if err != nil {
		return printSaleError(stderr, err.Error())
	}
	if description == "" {
		return printSaleError(stderr, "--description is required")
	}

	// The seller deposit is 2x the price by construction.
	deposit := new(big.Int).Mul(price, big.NewInt(2))
	params := map[string]interface{}{
		"from":    seller,
		"amount":  deposit.String(),
		"nonce":   nonce,
		"subArgs": []string{"createSale", buyer, price.String(), description},
	}
	result, rpcErr, err := saleRPCCall("token_transfer", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	fmt.Fprintln(stdout, string(result))
	return 0
}

func runSaleDeposit(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale deposit", stderr)
	var (
		buyer     string
		id        string
		amountStr string
		nonce     uint64
	)
	fs.StringVar(&buyer, "buyer", "", "buyer bech32 address")
	fs.StringVar(&id, "id", "", "sale id (0x-prefixed 32-byte hex)")
	fs.StringVar(&amountStr, "amount", "", "deposit amount (2x the sale price)")
	fs.Uint64Var(&nonce, "nonce", 0, "unique nonce for this transfer")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if buyer == "" {
		return printSaleError(stderr, "--buyer is required")
	}
	if err := validateSaleID(id); err != nil {
		return printSaleError(stderr, err.Error())
	}
	amount, err := parseSaleAmount(amountStr, "--amount")
	if err != nil {
		return printSaleError(stderr, err.Error())
	}

	params := map[string]interface{}{
		"from":    buyer,
		"amount":  amount.String(),
		"nonce":   nonce,
		"subArgs": []string{"buyerDeposit", id},
	}
	result, rpcErr, err := saleRPCCall("token_transfer", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	fmt.Fprintln(stdout, string(result))
	return 0
}

func runSaleCall(args []string, stdout, stderr io.Writer, name, method string, txType types.TxType) int {
	fs := newSaleFlagSet(name, stderr)
	var (
		id       string
		caller   string
		keystore string
		nonce    uint64
	)
	fs.StringVar(&id, "id", "", "sale id (0x-prefixed 32-byte hex)")
	fs.StringVar(&caller, "caller", "", "caller bech32 address (trusted operator path)")
	fs.StringVar(&keystore, "keystore", "", "sign with this keystore instead of declaring --caller")
	fs.Uint64Var(&nonce, "nonce", 0, "transaction nonce (signed path)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := validateSaleID(id); err != nil {
		return printSaleError(stderr, err.Error())
	}

	if keystore != "" {
		return runSignedSaleCall(stdout, stderr, txType, id, keystore, nonce)
	}
	if caller == "" {
		return printSaleError(stderr, "--caller or --keystore is required")
	}

	params := map[string]interface{}{"id": id, "caller": caller}
	result, rpcErr, err := saleRPCCall(method, params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	fmt.Fprintln(stdout, string(result))
	return 0
}

// runSignedSaleCall loads the keystore, signs a transaction carrying the sale
// id, and submits it. The node recovers the caller from the signature.
func runSignedSaleCall(stdout, stderr io.Writer, txType types.TxType, id, keystorePath string, nonce uint64) int {
	key, err := crypto.LoadFromKeystore(keystorePath, os.Getenv("SRP_KEYSTORE_PASS"))
	if err != nil {
		return printSaleError(stderr, fmt.Sprintf("unable to load keystore: %v", err))
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(id, "0x"), "0X"))
	if err != nil {
		return printSaleError(stderr, "--id must contain only hexadecimal characters")
	}
	tx := &types.Transaction{Type: txType, Nonce: nonce, Data: raw}
	if err := tx.Sign(key.PrivateKey); err != nil {
		return printSaleError(stderr, fmt.Sprintf("unable to sign transaction: %v", err))
	}
	result, rpcErr, err := saleRPCCall("srp_sendTransaction", tx, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	fmt.Fprintln(stdout, string(result))
	return 0
}

func runSaleGet(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale get", stderr)
	var id string
	fs.StringVar(&id, "id", "", "sale id (0x-prefixed 32-byte hex)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := validateSaleID(id); err != nil {
		return printSaleError(stderr, err.Error())
	}

	result, rpcErr, err := saleRPCCall("sale_get", map[string]interface{}{"id": id}, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	fmt.Fprintln(stdout, string(result))
	return 0
}

func runSaleEvents(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale events", stderr)
	var limit int
	fs.IntVar(&limit, "limit", 50, "maximum number of events to return")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	result, rpcErr, err := saleRPCCall("sale_listEvents", map[string]interface{}{"limit": limit}, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	fmt.Fprintln(stdout, string(result))
	return 0
}

func newSaleFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, saleUsage())
	}
	return fs
}

func printSaleError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func handleRPCError(w io.Writer, err *rpcError) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC error %d: %s\n", err.Code, err.Message)
	return 1
}

func handleRPCCallError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

func saleUsage() string {
	return strings.TrimSpace(`Usage:
  srp-cli sale <command> [flags]

Commands:
  create            List an item for sale (transfers the 2x seller deposit)
  deposit           Commit to a sale as buyer (transfers the 2x buyer deposit)
  confirm-shipment  Confirm the item was shipped (seller)
  confirm-received  Confirm the item arrived and settle the sale (buyer)
  cancel            Cancel an unclaimed sale and refund the seller deposit
  get               Fetch sale details by id
  events            List recent sale events
`)
}

func validateSaleID(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("--id is required")
	}
	cleaned := trimmed
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		cleaned = trimmed[2:]
	} else {
		return fmt.Errorf("--id must be a 0x-prefixed 32-byte hex string")
	}
	if len(cleaned) != 64 {
		return fmt.Errorf("--id must be a 0x-prefixed 32-byte hex string")
	}
	if !isHex(cleaned) {
		return fmt.Errorf("--id must contain only hexadecimal characters")
	}
	return nil
}

func isHex(value string) bool {
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func parseSaleAmount(value, flagName string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", flagName)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be a positive base-10 integer", flagName)
	}
	return amount, nil
}
