package keymgr

import (
	"bytes"
	"testing"

	"github.com/arcwallet/electrumwallet/core"
)

func testManager(t *testing.T) *HDKeyManager {
	t.Helper()
	_, seed, err := GenerateSeed(12, "")
	if err != nil {
		t.Fatalf("GenerateSeed: %v", err)
	}
	m, err := NewHDKeyManager(seed)
	if err != nil {
		t.Fatalf("NewHDKeyManager: %v", err)
	}
	if err := m.SetNetwork(NetworkRegtest); err != nil {
		t.Fatalf("SetNetwork: %v", err)
	}
	return m
}

func TestPathToScriptHashDistinctPerIndex(t *testing.T) {
	m := testManager(t)
	p0 := core.Path{Purpose: 84, Coin: 1, Account: 0, Change: core.ChainExternal, Index: 0}
	p1 := p0.Bumped()

	sh0, addr0, err := m.PathToScriptHash(p0, core.AddressP2WPKH)
	if err != nil {
		t.Fatalf("PathToScriptHash(0): %v", err)
	}
	sh1, addr1, err := m.PathToScriptHash(p1, core.AddressP2WPKH)
	if err != nil {
		t.Fatalf("PathToScriptHash(1): %v", err)
	}
	if sh0 == sh1 || addr0 == addr1 {
		t.Fatalf("expected distinct script hash/address per index, got %s/%s and %s/%s", sh0, addr0, sh1, addr1)
	}
}

func TestPathToScriptHashDeterministic(t *testing.T) {
	m := testManager(t)
	p := core.Path{Purpose: 84, Coin: 1, Account: 0, Change: core.ChainExternal, Index: 3}
	sh0, addr0, err := m.PathToScriptHash(p, core.AddressP2WPKH)
	if err != nil {
		t.Fatalf("PathToScriptHash: %v", err)
	}
	sh1, addr1, err := m.PathToScriptHash(p, core.AddressP2WPKH)
	if err != nil {
		t.Fatalf("PathToScriptHash: %v", err)
	}
	if sh0 != sh1 || addr0 != addr1 {
		t.Fatalf("expected deterministic derivation, got (%s,%s) then (%s,%s)", sh0, addr0, sh1, addr1)
	}
}

func TestFingerprintNonZero(t *testing.T) {
	m := testManager(t)
	fp, err := m.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if bytes.Equal(fp[:], []byte{0, 0, 0, 0}) {
		t.Fatalf("expected non-zero fingerprint")
	}
}

func TestSignerSignsWithMatchingPublicKey(t *testing.T) {
	m := testManager(t)
	p := core.Path{Purpose: 84, Coin: 1, Account: 0, Change: core.ChainInternal, Index: 2}
	signer, err := m.Signer(p)
	if err != nil {
		t.Fatalf("Signer: %v", err)
	}
	wantPub, err := m.PublicKey(p)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	if !bytes.Equal(signer.PublicKey(), wantPub) {
		t.Fatalf("signer public key does not match PublicKey(path)")
	}

	hash := bytes.Repeat([]byte{0xAB}, 32)
	sig, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) == 0 {
		t.Fatalf("expected non-empty signature")
	}
}
