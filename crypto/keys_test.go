package crypto

import "testing"

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, AddressLength)
	raw[19] = 0x42
	addr := NewAddress(AccountPrefix, raw)
	decoded, err := DecodeAddress(addr.String())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(addr) || decoded.Prefix() != AccountPrefix {
		t.Fatalf("unexpected decoded address %s", decoded)
	}
}

func TestVaultAddressDeterministic(t *testing.T) {
	commitment := Commitment([]byte("secret"))
	a := VaultAddress(commitment, 1)
	b := VaultAddress(commitment, 1)
	c := VaultAddress(commitment, 2)
	if !a.Equal(b) {
		t.Fatalf("expected identical derivation")
	}
	if a.Equal(c) {
		t.Fatalf("expected sequence to change the address")
	}
	if a.Prefix() != VaultPrefix {
		t.Fatalf("unexpected prefix %s", a.Prefix())
	}
}

func TestCommitmentDiffersPerSecret(t *testing.T) {
	if Commitment([]byte("a")) == Commitment([]byte("b")) {
		t.Fatalf("expected distinct commitments")
	}
}
