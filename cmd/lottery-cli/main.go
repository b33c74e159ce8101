package main

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"lotterychain/core/host"
	lcrypto "lotterychain/crypto"
	"lotterychain/native/lottery"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via LOTTERY_RPC_URL or --rpc flag

var keyFile = strings.TrimSpace(os.Getenv("LOTTERY_KEY_FILE")) // Signing key, overridden by --key

var httpClient = &http.Client{Timeout: 15 * time.Second}

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(args) < 1 {
		printUsage()
		return
	}
	out, err := dispatch(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

func dispatch(args []string) (string, error) {
	command, rest := args[0], args[1:]
	switch command {
	case "size":
		if len(rest) != 1 {
			return "", fmt.Errorf("usage: size <capacity>")
		}
		capacity, err := strconv.ParseUint(rest[0], 10, 32)
		if err != nil {
			return "", fmt.Errorf("invalid capacity: %w", err)
		}
		return strconv.FormatUint(lottery.AccountSize(uint32(capacity)), 10), nil
	case "payload":
		payload, err := buildPayload(rest)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(payload), nil
	case "entropy":
		if len(rest) == 0 {
			return "", fmt.Errorf("usage: entropy <seed>...")
		}
		return hex.EncodeToString(deriveEntropy(rest)), nil
	case "derive":
		if len(rest) != 1 {
			return "", fmt.Errorf("usage: derive <label>")
		}
		return host.DeriveIdentity(rest[0]).Hex(), nil
	case "decode":
		if len(rest) != 1 {
			return "", fmt.Errorf("usage: decode <region-hex>")
		}
		return decodeRegion(rest[0])
	case "keygen":
		if len(rest) > 1 {
			return "", fmt.Errorf("usage: keygen [path]")
		}
		path := keyFile
		if len(rest) == 1 {
			path = rest[0]
		}
		if path == "" {
			return "", fmt.Errorf("usage: keygen <path> (or set --key)")
		}
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("key file %s already exists", path)
		}
		key, err := lcrypto.GenerateKey()
		if err != nil {
			return "", err
		}
		if err := lcrypto.SaveKey(path, key); err != nil {
			return "", err
		}
		return lcrypto.IdentityFromKey(key).Hex(), nil
	case "identity":
		key, err := loadKey()
		if err != nil {
			return "", err
		}
		return lcrypto.IdentityFromKey(key).Hex(), nil
	case "sign":
		if len(rest) != 2 {
			return "", fmt.Errorf("usage: sign <nonce> <payload-hex>")
		}
		nonce, err := strconv.ParseUint(rest[0], 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid nonce: %w", err)
		}
		req, err := signRequest(nonce, rest[1])
		if err != nil {
			return "", err
		}
		return req.Signature, nil
	case "submit":
		if len(rest) != 1 {
			return "", fmt.Errorf("usage: submit <payload-hex>")
		}
		key, err := loadKey()
		if err != nil {
			return "", err
		}
		nonce, err := fetchNonce(lcrypto.IdentityFromKey(key))
		if err != nil {
			return "", err
		}
		req, err := signRequest(nonce, rest[0])
		if err != nil {
			return "", err
		}
		return post("/v1/instructions", req)
	case "ledger":
		return get("/v1/ledger")
	case "accounts":
		return get("/v1/accounts")
	case "balance":
		if len(rest) != 1 {
			return "", fmt.Errorf("usage: balance <identity-hex>")
		}
		return get("/v1/accounts/" + rest[0])
	case "airdrop":
		if len(rest) != 2 {
			return "", fmt.Errorf("usage: airdrop <identity-hex> <amount>")
		}
		amount, err := strconv.ParseUint(rest[1], 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid amount: %w", err)
		}
		return post("/v1/accounts/"+rest[0]+"/airdrop", map[string]uint64{"amount": amount})
	default:
		printUsage()
		return "", fmt.Errorf("unknown command %q", command)
	}
}

// buildPayload encodes `start <capacity> [unix-time]`, `donate <amount>`,
// `launch <entropy-hex>` or `complete`.
func buildPayload(args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("usage: payload start|donate|launch|complete ...")
	}
	switch args[0] {
	case "start":
		if len(args) < 2 || len(args) > 3 {
			return nil, fmt.Errorf("usage: payload start <capacity> [unix-time]")
		}
		capacity, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid capacity: %w", err)
		}
		startTime := uint64(time.Now().Unix())
		if len(args) == 3 {
			if startTime, err = strconv.ParseUint(args[2], 10, 64); err != nil {
				return nil, fmt.Errorf("invalid start time: %w", err)
			}
		}
		return lottery.StartInstruction(uint32(capacity), startTime).Bytes(), nil
	case "donate":
		if len(args) != 2 {
			return nil, fmt.Errorf("usage: payload donate <amount>")
		}
		amount, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid amount: %w", err)
		}
		return lottery.DonateInstruction(amount).Bytes(), nil
	case "launch":
		var entropy []byte
		if len(args) > 1 {
			raw, err := hex.DecodeString(strings.TrimPrefix(args[1], "0x"))
			if err != nil {
				return nil, fmt.Errorf("invalid entropy: %w", err)
			}
			entropy = raw
		}
		return lottery.LaunchInstruction(entropy).Bytes(), nil
	case "complete":
		return lottery.CompleteInstruction().Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown instruction %q", args[0])
	}
}

// deriveEntropy concatenates the 32-byte blake3 digest of every seed, the way
// recent block hashes are concatenated when drawing on-chain.
func deriveEntropy(seeds []string) []byte {
	out := make([]byte, 0, len(seeds)*32)
	for _, seed := range seeds {
		sum := blake3.Sum256([]byte(seed))
		out = append(out, sum[:]...)
	}
	return out
}

func decodeRegion(regionHex string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(regionHex), "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid region: %w", err)
	}
	l, err := lottery.Decode(raw)
	if err != nil {
		return "", err
	}
	blob, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

type instructionRequest struct {
	Payload   string `json:"payload"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

func loadKey() (*ecdsa.PrivateKey, error) {
	if keyFile == "" {
		return nil, fmt.Errorf("no signing key: pass --key or set LOTTERY_KEY_FILE")
	}
	return lcrypto.LoadKey(keyFile)
}

func signRequest(nonce uint64, payloadHex string) (instructionRequest, error) {
	payload, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(payloadHex), "0x"))
	if err != nil {
		return instructionRequest{}, fmt.Errorf("invalid payload: %w", err)
	}
	if _, err := lottery.ParseInstruction(payload); err != nil {
		return instructionRequest{}, err
	}
	key, err := loadKey()
	if err != nil {
		return instructionRequest{}, err
	}
	sig, err := lcrypto.SignInstruction(key, nonce, payload)
	if err != nil {
		return instructionRequest{}, err
	}
	return instructionRequest{
		Payload:   hex.EncodeToString(payload),
		Nonce:     nonce,
		Signature: hex.EncodeToString(sig),
	}, nil
}

// fetchNonce reads the next expected nonce for id from lotteryd.
func fetchNonce(id lottery.Identity) (uint64, error) {
	body, err := get("/v1/accounts/" + id.Hex())
	if err != nil {
		return 0, err
	}
	var account struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.Unmarshal([]byte(body), &account); err != nil {
		return 0, fmt.Errorf("decode account: %w", err)
	}
	return account.Nonce, nil
}

func get(path string) (string, error) {
	resp, err := httpClient.Get(rpcEndpoint + path)
	if err != nil {
		return "", err
	}
	return readResponse(resp)
}

func post(path string, body any) (string, error) {
	blob, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	resp, err := httpClient.Post(rpcEndpoint+path, "application/json", bytes.NewReader(blob))
	if err != nil {
		return "", err
	}
	return readResponse(resp)
}

func readResponse(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("LOTTERY_RPC_URL")); v != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://localhost:8090"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a value")
			}
			rpcEndpoint = strings.TrimRight(args[i+1], "/")
			i++
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimRight(strings.TrimPrefix(arg, "--rpc="), "/")
		case arg == "--key":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--key requires a value")
			}
			keyFile = args[i+1]
			i++
		case strings.HasPrefix(arg, "--key="):
			keyFile = strings.TrimPrefix(arg, "--key=")
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func printUsage() {
	fmt.Println("Usage: lottery-cli [--rpc URL] [--key FILE] <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  size <capacity>                       - Bytes to allocate for a round of <capacity>")
	fmt.Println("  payload start <capacity> [unix-time]  - Encode a start instruction")
	fmt.Println("  payload donate <amount>               - Encode a donate instruction")
	fmt.Println("  payload launch [entropy-hex]          - Encode a launch instruction")
	fmt.Println("  payload complete                      - Encode a complete instruction")
	fmt.Println("  entropy <seed>...                     - Derive launch entropy from seeds")
	fmt.Println("  derive <label>                        - Derive an identity from a label")
	fmt.Println("  decode <region-hex>                   - Decode a ledger region")
	fmt.Println("  keygen [path]                         - Generate a signing key and print its identity")
	fmt.Println("  identity                              - Print the identity of the signing key")
	fmt.Println("  sign <nonce> <payload-hex>            - Sign an instruction payload at <nonce>")
	fmt.Println("  submit <payload-hex>                  - Sign and submit an instruction to lotteryd")
	fmt.Println("  ledger                                - Show the current ledger")
	fmt.Println("  accounts                              - List every stored balance")
	fmt.Println("  balance <identity-hex>                - Show an account balance")
	fmt.Println("  airdrop <identity-hex> <amount>       - Credit an account (dev only)")
}
