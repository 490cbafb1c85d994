package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, 20)
	addr, err := NewAddress(raw)
	if err != nil {
		t.Fatalf("new address: %v", err)
	}

	encoded := addr.String()
	if !strings.HasPrefix(encoded, AddressPrefix+"1") {
		t.Fatalf("encoded address: %s", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != addr {
		t.Fatalf("round trip mismatch: %s vs %s", decoded, addr)
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("raw bytes: %x", decoded.Bytes())
	}
}

func TestNewAddressRejectsWrongLength(t *testing.T) {
	if _, err := NewAddress(make([]byte, 19)); err == nil {
		t.Fatalf("short input accepted")
	}
	if _, err := NewAddress(make([]byte, 32)); err == nil {
		t.Fatalf("long input accepted")
	}
}

func TestDecodeAddressRejectsBadInput(t *testing.T) {
	if _, err := DecodeAddress("not-bech32"); err == nil {
		t.Fatalf("garbage accepted")
	}
	// Valid bech32 under a different prefix.
	other := MustNewAddress(bytes.Repeat([]byte{0x01}, 20)).String()
	swapped := "nhb" + strings.TrimPrefix(other, AddressPrefix)
	if _, err := DecodeAddress(swapped); err == nil {
		t.Fatalf("foreign prefix accepted")
	}
}

func TestIsZero(t *testing.T) {
	if !(Address{}).IsZero() {
		t.Fatalf("zero value not zero")
	}
	if MustNewAddress(bytes.Repeat([]byte{0x01}, 20)).IsZero() {
		t.Fatalf("non-zero address reported zero")
	}
}

func TestKeyGenerationAndRestore(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	addr := key.PubKey().Address()
	if addr.IsZero() {
		t.Fatalf("derived zero address")
	}

	restored, err := PrivateKeyFromHex(key.Hex())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.PubKey().Address() != addr {
		t.Fatalf("restored key derives different address")
	}

	if _, err := PrivateKeyFromHex("zz"); err == nil {
		t.Fatalf("bad hex accepted")
	}
}
