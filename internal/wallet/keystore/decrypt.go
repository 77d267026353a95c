package keystore

import (
	"crypto/subtle"
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

// ErrInvalidPassword is returned when the envelope MAC does not match.
var ErrInvalidPassword = errors.New("invalid password: MAC mismatch")

func decrypt(env *Envelope, password string) ([]byte, error) {
	if env.Crypto.Cipher != cipherName || env.Crypto.KDF != kdfName {
		return nil, errors.Errorf("unsupported keystore cipher %q / kdf %q", env.Crypto.Cipher, env.Crypto.KDF)
	}

	salt, err := hex.DecodeString(env.Crypto.KDFParams.Salt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode salt")
	}

	//nolint:varnamelen // iv is a common abbreviation for initialization vector
	iv, err := hex.DecodeString(env.Crypto.CipherParams.IV)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode IV")
	}

	ciphertext, err := hex.DecodeString(env.Crypto.Ciphertext)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode ciphertext")
	}

	expectedMAC, err := hex.DecodeString(env.Crypto.MAC)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode MAC")
	}

	//nolint:mnd // AES-128 key plus MAC key
	if env.Crypto.KDFParams.DKLen < 32 {
		return nil, errors.Errorf("derived key length %d too short", env.Crypto.KDFParams.DKLen)
	}

	derivedKey, err := scrypt.Key(
		[]byte(password),
		salt,
		env.Crypto.KDFParams.N,
		env.Crypto.KDFParams.R,
		env.Crypto.KDFParams.P,
		env.Crypto.KDFParams.DKLen,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive key")
	}

	if subtle.ConstantTimeCompare(mac(derivedKey[16:32], ciphertext), expectedMAC) != 1 {
		return nil, ErrInvalidPassword
	}

	plaintext, err := aes128CTR(derivedKey[:16], iv, ciphertext)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt keys")
	}

	return plaintext, nil
}
