// Package cipher implements the AEAD stream cipher layer of the relay's
// wire protocol: per-connection salt exchange, HKDF-SHA1 subkey derivation
// from a pre-shared key, and length-prefixed AEAD chunk framing.
//
// An X25519/ECDH exchange has no place here: shadowsocks derives its
// session key from a pre-shared key and a per-connection salt, never an
// asymmetric handshake, so this package is built around an AEAD method
// table and chunk codec instead.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha1"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// subkeyInfo is the HKDF info parameter shadowsocks' AEAD construction
// fixes for subkey derivation.
const subkeyInfo = "ss-subkey"

// MaxChunkSize is the largest plaintext payload a single AEAD chunk may
// carry; the 2-byte length prefix can only address 14 bits of it.
const MaxChunkSize = 0x3FFF

// Method describes one supported AEAD cipher: its key and salt sizes, and
// how to build an AEAD instance from a derived session key.
type Method struct {
	Name     string
	KeySize  int
	SaltSize int
	newAEAD  func(key []byte) (cipher.AEAD, error)
}

// NewAEAD builds an AEAD instance from an already-derived session key of
// exactly m.KeySize bytes.
func (m Method) NewAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != m.KeySize {
		return nil, fmt.Errorf("cipher %s: key must be %d bytes, got %d", m.Name, m.KeySize, len(key))
	}
	return m.newAEAD(key)
}

var methods = map[string]Method{
	"chacha20-ietf-poly1305": {
		Name:     "chacha20-ietf-poly1305",
		KeySize:  32,
		SaltSize: 32,
		newAEAD: func(key []byte) (cipher.AEAD, error) {
			return chacha20poly1305.New(key)
		},
	},
	"aes-256-gcm": {
		Name:     "aes-256-gcm",
		KeySize:  32,
		SaltSize: 32,
		newAEAD:  newAESGCM,
	},
	"aes-128-gcm": {
		Name:     "aes-128-gcm",
		KeySize:  16,
		SaltSize: 16,
		newAEAD:  newAESGCM,
	},
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// LookupMethod returns the named AEAD method, or an error if it is not one
// of the three supported by this relay.
func LookupMethod(name string) (Method, error) {
	m, ok := methods[name]
	if !ok {
		return Method{}, fmt.Errorf("unsupported cipher method %q", name)
	}
	return m, nil
}

// DeriveSubkey derives a per-connection session key from a pre-shared key
// and the connection's salt via HKDF-SHA1, the same two-stage derivation
// (PSK -> master key by the method's own KDF, master key + salt -> subkey
// by HKDF) that shadowsocks' AEAD construction specifies.
func (m Method) DeriveSubkey(presharedKey, salt []byte) ([]byte, error) {
	masterKey := DeriveMasterKey(presharedKey, m.KeySize)

	subkey := make([]byte, m.KeySize)
	r := hkdf.New(sha1.New, masterKey, salt, []byte(subkeyInfo))
	if _, err := io.ReadFull(r, subkey); err != nil {
		return nil, fmt.Errorf("derive subkey: %w", err)
	}
	return subkey, nil
}

// DeriveMasterKey stretches an arbitrary-length pre-shared key (typically a
// user-supplied password) to the method's required key size using the
// classic EVP_BytesToKey-style repeated-MD5 construction shadowsocks uses
// for its master key, independent of the HKDF-SHA1 subkey step above.
func DeriveMasterKey(password []byte, keySize int) []byte {
	var out []byte
	var prev []byte
	for len(out) < keySize {
		h := md5.New()
		h.Write(prev)
		h.Write(password)
		prev = h.Sum(nil)
		out = append(out, prev...)
	}
	return out[:keySize]
}
