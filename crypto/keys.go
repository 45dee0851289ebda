package crypto

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	// AccountPrefix tags externally owned accounts (depositors, liquidators,
	// oracle submitters, the treasury).
	AccountPrefix AddressPrefix = "zk"
	// VaultPrefix tags vault identities. A vault address doubles as the
	// base-asset account holding its collateral.
	VaultPrefix AddressPrefix = "zkvault"
)

// AddressLength is the byte length of every address.
const AddressLength = 20

// Address represents a 20-byte identity with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}
}

// AddressFromArray wraps a raw 20-byte identifier.
func AddressFromArray(prefix AddressPrefix, raw [AddressLength]byte) Address {
	return NewAddress(prefix, raw[:])
}

func (a Address) String() string {
	if len(a.bytes) == 0 {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Array returns the raw identifier as a fixed-size array suitable for RLP
// records and map keys.
func (a Address) Array() [AddressLength]byte {
	var out [AddressLength]byte
	copy(out[:], a.bytes)
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address is unset or all zero bytes.
func (a Address) IsZero() bool {
	for _, b := range a.bytes {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal compares the raw identifiers, ignoring the prefix.
func (a Address) Equal(other Address) bool {
	return bytes.Equal(a.bytes, other.bytes)
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// --- Ownership commitments ---

// Commitment returns the keccak256 commitment to a vault secret. Any holder of
// the secret can reproduce it.
func Commitment(secret []byte) [32]byte {
	var out [32]byte
	copy(out[:], crypto.Keccak256(secret))
	return out
}

// VaultAddress derives the deterministic vault identity for a commitment and
// creation sequence number.
func VaultAddress(commitment [32]byte, sequence uint64) Address {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	digest := crypto.Keccak256([]byte("vault"), commitment[:], seq[:])
	return NewAddress(VaultPrefix, digest[len(digest)-AddressLength:])
}
