package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"srpchain/crypto"

	"github.com/google/uuid"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("SRP_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	switch args[0] {
	case "generate-key":
		generateKey()
	case "balance":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		getBalance(args[1])
	case "mint":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an address and an amount.")
			printUsage()
			return
		}
		mint(args[1], args[2])
	case "vault":
		vaultAddress()
	case "sale":
		os.Exit(runSaleCommand(args[1:], os.Stdout, os.Stderr))
	default:
		fmt.Printf("Unknown command: %s\n", args[0])
		printUsage()
	}
}

func printUsage() {
	fmt.Println(strings.TrimSpace(`Usage:
  srp-cli [--rpc <url>] <command> [args]

Commands:
  generate-key            Generate a new keypair and print the address
  balance <address>       Show the MCT balance for an address
  mint <address> <amount> Credit newly issued MCT (operator only)
  vault                   Print the sale custody vault address
  sale <subcommand>       Manage safe remote purchase sales (see 'srp-cli sale')
`))
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a URL")
			}
			i++
			rpcEndpoint = args[i]
		case strings.HasPrefix(args[i], "--rpc="):
			rpcEndpoint = strings.TrimPrefix(args[i], "--rpc=")
		default:
			out = append(out, args[i])
		}
	}
	return out, nil
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("SRP_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Printf("Error generating key: %v\n", err)
		return
	}
	path := key.PubKey().Address().String() + ".keystore"
	if err := crypto.SaveToKeystore(path, key, ""); err != nil {
		fmt.Printf("Error saving keystore: %v\n", err)
		return
	}
	fmt.Printf("Address: %s\nKeystore: %s\n", key.PubKey().Address().String(), path)
}

func getBalance(address string) {
	result, rpcErr, err := callRPC("srp_getBalance", map[string]interface{}{"address": address}, false)
	if err != nil {
		fmt.Printf("RPC call failed: %v\n", err)
		return
	}
	if rpcErr != nil {
		fmt.Printf("RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		return
	}
	printJSON(result)
}

func mint(address, amount string) {
	result, rpcErr, err := callRPC("srp_mint", map[string]interface{}{"address": address, "amount": amount}, true)
	if err != nil {
		fmt.Printf("RPC call failed: %v\n", err)
		return
	}
	if rpcErr != nil {
		fmt.Printf("RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		return
	}
	printJSON(result)
}

func vaultAddress() {
	result, rpcErr, err := callRPC("srp_vaultAddress", nil, false)
	if err != nil {
		fmt.Printf("RPC call failed: %v\n", err)
		return
	}
	if rpcErr != nil {
		fmt.Printf("RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		return
	}
	printJSON(result)
}

func printJSON(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func callRPC(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		token := strings.TrimSpace(rpcAuthToken)
		if token == "" {
			return nil, nil, fmt.Errorf("SRP_RPC_TOKEN is not set; required for this command")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}
