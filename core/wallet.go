package core

// Wallet owns key material and exposes only a stable address string plus a
// mutable balance cache; the rest of the system never looks past that
// surface. Keys are ed25519 derived from a BIP-39 mnemonic at a single
// derivation level — there is no multi-account requirement, so no
// hardened-child tree.

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // address scheme, not security-critical
)

// Wallet holds ed25519 key material in memory and the node's locally
// tracked balance cache. Balance is advisory — the authoritative value is
// always Ledger.Balance; the node recomputes the cache after every local
// ledger mutation.
type Wallet struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	addr Address

	Balance int64
}

// NewRandomWallet generates a fresh BIP-39 mnemonic and derives a wallet from
// it. The mnemonic is returned so callers can display/store it; the wallet
// itself never persists it.
func NewRandomWallet() (*Wallet, string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return nil, "", fmt.Errorf("wallet: entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", fmt.Errorf("wallet: mnemonic: %w", err)
	}
	w, err := WalletFromMnemonic(mnemonic, "")
	return w, mnemonic, err
}

// WalletFromMnemonic recreates a wallet deterministically from a BIP-39
// phrase, so the same mnemonic always yields the same address.
func WalletFromMnemonic(mnemonic, passphrase string) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("wallet: invalid mnemonic checksum")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return newWalletFromSeed(seed)
}

func newWalletFromSeed(seed []byte) (*Wallet, error) {
	if len(seed) < ed25519.SeedSize {
		return nil, errors.New("wallet: seed too short")
	}
	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	pub := priv.Public().(ed25519.PublicKey)
	return &Wallet{priv: priv, pub: pub, addr: addressFromPublicKey(pub)}, nil
}

// NewEphemeralWallet draws random key material without a mnemonic — used by
// tests and by nodes that don't need recoverability.
func NewEphemeralWallet() (*Wallet, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := crand.Read(seed); err != nil {
		return nil, fmt.Errorf("wallet: rand seed: %w", err)
	}
	return newWalletFromSeed(seed)
}

// addressFromPublicKey derives the address via SHA-256 then RIPEMD-160,
// hex-encoded so Address stays a printable string.
func addressFromPublicKey(pub ed25519.PublicKey) Address {
	sha := sha256.Sum256(pub)
	r := ripemd160.New()
	r.Write(sha[:])
	return Address(hex.EncodeToString(r.Sum(nil)))
}

// Address returns the wallet's stable address string.
func (w *Wallet) Address() Address { return w.addr }

// Sign is a hook for a future signed-transaction scheme. Transactions are
// currently unauthenticated — any senders list is trusted — so nothing in
// this repo calls Sign or VerifySenderSignature yet.
func (w *Wallet) Sign(msg []byte) []byte {
	return ed25519.Sign(w.priv, msg)
}

// VerifySenderSignature is the matching verification hook. Transaction
// validation never calls it today, but a future signed-transaction scheme
// has a single place to plug into.
func VerifySenderSignature(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}
