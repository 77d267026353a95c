// Package hd derives EVM account chains from a BIP39 mnemonic.
package hd

import (
	"crypto/sha512"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// SeedFromMnemonic converts a mnemonic to a seed the BIP39 way:
// PBKDF2(mnemonic, "mnemonic" + passphrase, 2048, 64, SHA512).
// The mnemonic checksum is not verified.
func SeedFromMnemonic(mnemonic string, passphrase string) []byte {
	const (
		pbkdf2Iterations = 2048
		pbkdf2KeyLength  = 64
	)

	return pbkdf2.Key(
		[]byte(strings.Join(strings.Fields(mnemonic), " ")),
		[]byte("mnemonic"+passphrase),
		pbkdf2Iterations,
		pbkdf2KeyLength,
		sha512.New,
	)
}

// Clear zeroes b.
func Clear(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
