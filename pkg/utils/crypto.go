package utils

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// ChecksumAddress normalizes an address to its EIP-55 checksummed form.
// Offer rows always store the checksummed form so lookups are case-stable.
func ChecksumAddress(address string) string {
	if !strings.HasPrefix(address, "0x") {
		address = "0x" + address
	}
	return common.HexToAddress(address).Hex()
}

// EventUniqueID derives the deterministic unique id of an on-chain event
// occurrence from its (transaction hash, log index) dedup key.
func EventUniqueID(txHash string, logIndex uint64) string {
	data := fmt.Sprintf("%s-%d", strings.ToLower(txHash), logIndex)
	return crypto.Keccak256Hash([]byte(data)).Hex()
}

// EventTopicHash returns the keccak256 hash of an event signature
func EventTopicHash(signature string) string {
	return crypto.Keccak256Hash([]byte(signature)).Hex()
}
