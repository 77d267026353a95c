// Package keystore persists the account chain: a JSON list of key pairs,
// optionally sealed in a password protected keystore v3 style envelope.
package keystore

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github/chapool/chain-sweeper/internal/ledger"
)

// ErrPasswordRequired is returned when an encrypted keys file is opened without a password.
var ErrPasswordRequired = errors.New("keys file is encrypted, password required")

const keysFileMode = 0o600

// GenerateFunc creates one key pair and returns its address and secret.
type GenerateFunc func() (string, string, error)

// Store reads and writes a keys file. An empty password stores the list in plain JSON.
type Store struct {
	path     string
	password string
	params   ScryptParams
}

func NewStore(path string, password string) *Store {
	return &Store{
		path:     path,
		password: password,
		params:   DefaultScryptParams(),
	}
}

// WithScryptParams overrides the KDF cost used when saving.
func (s *Store) WithScryptParams(params ScryptParams) *Store {
	s.params = params
	return s
}

func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the keys file is present.
func (s *Store) Exists() (bool, error) {
	_, err := os.Stat(s.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrap(err, "failed to stat keys file")
}

// Encrypted reports whether the keys file holds an envelope rather than a plain list.
func (s *Store) Encrypted() (bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, errors.Wrap(err, "failed to read keys file")
	}
	return isEnvelope(data), nil
}

func (s *Store) Load() ([]KeyPair, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read keys file")
	}

	if isEnvelope(data) {
		if s.password == "" {
			return nil, ErrPasswordRequired
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal keystore envelope")
		}

		data, err = decrypt(&env, s.password)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decrypt keys file")
		}
	}

	var keys []KeyPair
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal keys")
	}

	for i, key := range keys {
		if key.PublicKey == "" || key.PrivateKey == "" {
			return nil, errors.Errorf("keys file entry %d is incomplete", i)
		}
	}

	return keys, nil
}

// Save replaces the keys file. The write goes through a temporary file so a
// crash never leaves a truncated list behind.
func (s *Store) Save(keys []KeyPair) error {
	if keys == nil {
		keys = []KeyPair{}
	}

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal keys")
	}

	if s.password != "" {
		env, err := encrypt(data, s.password, s.params)
		if err != nil {
			return errors.Wrap(err, "failed to encrypt keys")
		}

		data, err = json.MarshalIndent(env, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal keystore envelope")
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "failed to create keys directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary keys file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write keys file")
	}
	if err := tmp.Chmod(keysFileMode); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to set keys file permissions")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close keys file")
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, "failed to replace keys file")
	}

	return nil
}

// Append adds keys to the end of the existing list, creating the file when missing.
func (s *Store) Append(keys ...KeyPair) ([]KeyPair, error) {
	exists, err := s.Exists()
	if err != nil {
		return nil, err
	}

	var all []KeyPair
	if exists {
		all, err = s.Load()
		if err != nil {
			return nil, err
		}
	}

	all = append(all, keys...)
	if err := s.Save(all); err != nil {
		return nil, err
	}

	log.Info().
		Str("path", s.path).
		Int("added", len(keys)).
		Int("total", len(all)).
		Msg("Keystore: saved key pairs")

	return all, nil
}

// Generate creates n key pairs with gen and appends them to the keys file.
func (s *Store) Generate(n int, gen GenerateFunc) ([]KeyPair, error) {
	if n <= 0 {
		return nil, errors.New("number of keys must be positive")
	}

	keys := make([]KeyPair, 0, n)
	for i := 0; i < n; i++ {
		address, secret, err := gen()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to generate key %d", i)
		}
		keys = append(keys, KeyPair{PublicKey: address, PrivateKey: secret})
	}

	return s.Append(keys...)
}

// Accounts turns the key list into an account chain, indexed by position.
func Accounts(keys []KeyPair) []ledger.Account {
	accounts := make([]ledger.Account, 0, len(keys))
	for i, key := range keys {
		accounts = append(accounts, ledger.Account{
			Index:      i,
			Address:    key.PublicKey,
			SigningKey: key.PrivateKey,
		})
	}
	return accounts
}

func isEnvelope(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '{'
}
