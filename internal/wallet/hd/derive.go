package hd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
)

// DefaultBasePath is the BIP44 account path of Ethereum; the account index is appended.
const DefaultBasePath = "m/44'/60'/0'/0"

// Deriver derives accounts below a base path of one master key.
type Deriver struct {
	base *bip32.Key
	path string
}

func NewDeriver(seed []byte, basePath string) (*Deriver, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create master key")
	}

	indices, err := ParsePath(basePath)
	if err != nil {
		return nil, err
	}

	key := masterKey
	for _, index := range indices {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive child key at index %d", index)
		}
	}

	return &Deriver{base: key, path: basePath}, nil
}

// Path returns the full derivation path of account index.
func (d *Deriver) Path(index uint32) string {
	return fmt.Sprintf("%s/%d", d.path, index)
}

// Account derives account index and returns its checksummed address and hex secret.
func (d *Deriver) Account(index uint32) (string, string, error) {
	child, err := d.base.NewChildKey(index)
	if err != nil {
		return "", "", errors.Wrapf(err, "failed to derive account %d", index)
	}

	privateKey, err := crypto.ToECDSA(child.Key)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to convert to ECDSA private key")
	}

	return crypto.PubkeyToAddress(privateKey.PublicKey).Hex(), common.Bytes2Hex(crypto.FromECDSA(privateKey)), nil
}

// Generator derives consecutive accounts starting at start.
func (d *Deriver) Generator(start uint32) func() (string, string, error) {
	next := start
	return func() (string, string, error) {
		address, secret, err := d.Account(next)
		next++
		return address, secret, err
	}
}

// ParsePath parses a BIP44 path such as "m/44'/60'/0'/0" into child indices.
func ParsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, errors.Errorf("invalid BIP44 path: %s", path)
	}

	indices := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'")
		part = strings.TrimSuffix(part, "'")

		parsed, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, errors.Errorf("invalid path segment: %s", part)
		}

		index := uint32(parsed)
		if hardened {
			index += bip32.FirstHardenedChild
		}

		indices = append(indices, index)
	}

	return indices, nil
}
