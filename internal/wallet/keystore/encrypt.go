package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

const (
	envelopeVersion = 3
	cipherName      = "aes-128-ctr"
	kdfName         = "scrypt"
)

// encrypt seals plaintext into a keystore v3 style envelope.
//
//nolint:varnamelen // iv is a common abbreviation for initialization vector
func encrypt(plaintext []byte, password string, params ScryptParams) (*Envelope, error) {
	//nolint:mnd // 32 is the standard salt size for scrypt
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "failed to generate salt")
	}

	//nolint:mnd // AES-128-CTR requires a 16-byte IV
	iv := make([]byte, 16)
	if _, err := rand.Read(iv); err != nil {
		return nil, errors.Wrap(err, "failed to generate IV")
	}

	derivedKey, err := scrypt.Key([]byte(password), salt, params.N, params.R, params.P, params.DKLen)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive key")
	}

	ciphertext, err := aes128CTR(derivedKey[:16], iv, plaintext)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encrypt keys")
	}

	env := &Envelope{
		Version: envelopeVersion,
		ID:      uuid.New().String(),
	}

	env.Crypto.Ciphertext = hex.EncodeToString(ciphertext)
	env.Crypto.CipherParams.IV = hex.EncodeToString(iv)
	env.Crypto.Cipher = cipherName
	env.Crypto.KDF = kdfName
	env.Crypto.KDFParams.DKLen = params.DKLen
	env.Crypto.KDFParams.Salt = hex.EncodeToString(salt)
	env.Crypto.KDFParams.N = params.N
	env.Crypto.KDFParams.R = params.R
	env.Crypto.KDFParams.P = params.P
	env.Crypto.MAC = hex.EncodeToString(mac(derivedKey[16:32], ciphertext))

	return env, nil
}

// aes128CTR is its own inverse.
//
//nolint:varnamelen // iv is a common abbreviation for initialization vector
func aes128CTR(key []byte, iv []byte, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}

	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)

	return out, nil
}

// mac is Keccak-256(derivedKey[16:32] || ciphertext).
func mac(key []byte, ciphertext []byte) []byte {
	return crypto.Keccak256(key, ciphertext)
}
