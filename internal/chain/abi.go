package chain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Precomputed 4-byte selectors for the contract getters the pipeline reads.
const (
	selGetContractState   = "0x7b1f0c2e" // getContractState()
	selGetCurrentGasPrice = "0x36fbad26" // getCurrentGasPrice()
	selGetPosition        = "0x0ff4c916" // getPosition(address)
	selLiquidityProvided  = "0x8b7afe2e" // liquidityProvided(address)
)

// TopicFuturesMinted is the event signature hash of
// FuturesMinted(address indexed trader, bool isLong, uint256 quantity,
// uint256 collateral, uint256 leverage).
const TopicFuturesMinted = "0x9d1b3f0be1a2c2f73c06e1f5f45cf7e4f6a9c8a7d4f0253c88b9d67f21e85a1b"

const wordHexLen = 64

// callData builds eth_call input for a selector plus optional address args.
func callData(selector string, addrs ...string) string {
	var b strings.Builder
	b.WriteString(selector)
	for _, addr := range addrs {
		b.WriteString(padAddress(addr))
	}
	return b.String()
}

func padAddress(addr string) string {
	addr = strings.TrimPrefix(strings.ToLower(addr), "0x")
	return strings.Repeat("0", wordHexLen-len(addr)) + addr
}

// abiWords splits a hex-encoded eth_call result into 32-byte words.
func abiWords(result string) ([]string, error) {
	hexStr := strings.TrimPrefix(result, "0x")
	if len(hexStr)%wordHexLen != 0 {
		return nil, fmt.Errorf("result length %d is not word aligned", len(hexStr))
	}
	words := make([]string, 0, len(hexStr)/wordHexLen)
	for i := 0; i < len(hexStr); i += wordHexLen {
		words = append(words, hexStr[i:i+wordHexLen])
	}
	return words, nil
}

func wordUint64(word string) (uint64, error) {
	trimmed := strings.TrimLeft(word, "0")
	if trimmed == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse word %q: %w", word, err)
	}
	return v, nil
}

func wordBool(word string) bool {
	return strings.TrimLeft(word, "0") == "1"
}

// wordBig decodes a 256-bit unsigned integer to its decimal string form,
// used for wei amounts that do not fit uint64.
func wordBig(word string) (string, error) {
	v, ok := new(big.Int).SetString(word, 16)
	if !ok {
		return "", fmt.Errorf("parse word %q as big int", word)
	}
	return v.String(), nil
}

// wordAddress extracts the trailing 20 bytes of a word as an 0x address.
func wordAddress(word string) string {
	word = strings.TrimPrefix(word, "0x")
	if len(word) < 40 {
		return "0x" + word
	}
	return "0x" + word[len(word)-40:]
}

func hexUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex quantity %q: %w", s, err)
	}
	return v, nil
}

func uint64Hex(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}
