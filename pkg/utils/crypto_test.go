package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumAddress(t *testing.T) {
	// EIP-55 reference vector
	assert.Equal(t,
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		ChecksumAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))

	// Already checksummed input is stable
	assert.Equal(t,
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		ChecksumAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))

	// Missing 0x prefix is tolerated
	assert.Equal(t,
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		ChecksumAddress("5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
}

func TestEventUniqueIDDeterministic(t *testing.T) {
	a := EventUniqueID("0xABC123", 5)
	b := EventUniqueID("0xabc123", 5)
	assert.Equal(t, a, b, "the id must be case-insensitive on the hash")
	assert.Len(t, a, 66)
}

func TestEventUniqueIDDistinct(t *testing.T) {
	base := EventUniqueID("0xabc123", 5)
	assert.NotEqual(t, base, EventUniqueID("0xabc123", 6))
	assert.NotEqual(t, base, EventUniqueID("0xabc124", 5))
}

func TestEventTopicHash(t *testing.T) {
	// keccak256("Transfer(address,address,uint256)") is a well-known vector
	assert.Equal(t,
		"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
		EventTopicHash("Transfer(address,address,uint256)"))
}

func TestIsValidAddress(t *testing.T) {
	assert.True(t, IsValidAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
	assert.False(t, IsValidAddress("0x123"))
	assert.False(t, IsValidAddress("not an address"))
}
