package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part of a bech32 workchain address.
const AddressPrefix = "wrk"

// Address represents a 20-byte workchain account address.
type Address struct {
	bytes [20]byte
}

// NewAddress wraps raw 20-byte address material.
func NewAddress(b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes, got %d", len(b))
	}
	var addr Address
	copy(addr.bytes[:], b)
	return addr, nil
}

// MustNewAddress wraps raw address bytes and panics on malformed input. It is
// intended for fixed addresses computed at startup.
func MustNewAddress(b []byte) Address {
	addr, err := NewAddress(b)
	if err != nil {
		panic(err)
	}
	return addr
}

// String renders the address in bech32 with the wrk prefix.
func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, 20)
	copy(out, a.bytes[:])
	return out
}

// Raw returns the address as a fixed-size array for map keys.
func (a Address) Raw() [20]byte { return a.bytes }

// IsZero reports whether the address is the null account.
func (a Address) IsZero() bool { return a.bytes == [20]byte{} }

// DecodeAddress parses a bech32 workchain address.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != AddressPrefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(conv)
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

// GeneratePrivateKey produces a new secp256k1 private key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex restores a key from its hex encoding.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	key, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Hex returns the hex encoding of the private key scalar.
func (k *PrivateKey) Hex() string {
	return hex.EncodeToString(ethcrypto.FromECDSA(k.PrivateKey))
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PublicKey}
}

// Address derives the account address from the public key (keccak256 of the
// uncompressed point, last 20 bytes).
func (p *PublicKey) Address() Address {
	return MustNewAddress(ethcrypto.PubkeyToAddress(*p.PublicKey).Bytes())
}
