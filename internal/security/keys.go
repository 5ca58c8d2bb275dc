package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidKey is returned for unreadable PEM, an unsupported key type or a mismatched pair.
var ErrInvalidKey = errors.New("invalid key")

// KeyPair is the JWT signing key and the key tokens are verified with.
type KeyPair struct {
	Signer crypto.Signer
	Public crypto.PublicKey
	method jwt.SigningMethod
}

// Alg returns the JWT algorithm name of the pair (RS256 or ES256).
func (k *KeyPair) Alg() string {
	return k.method.Alg()
}

// LoadKeyPair builds the signing pair from JWT_PRIVATE_KEY and JWT_PUBLIC_KEY values. Each value
// is inline PEM or a file path; inline PEM may use literal "\n" as env files often do. An empty
// public value is derived from the private key; a given one must match it.
func LoadKeyPair(private, public string) (*KeyPair, error) {
	block, err := readPEMBlock(private)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	signer, err := signerFromBlock(block)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	method := signingMethod(signer.Public())
	if method == nil {
		return nil, fmt.Errorf("private key: %w: only RSA and P-256 keys are supported", ErrInvalidKey)
	}
	pair := &KeyPair{Signer: signer, Public: signer.Public(), method: method}
	if strings.TrimSpace(public) == "" {
		return pair, nil
	}

	if block, err = readPEMBlock(public); err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	pub, err := publicFromBlock(block)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	own, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !own.Equal(pub) {
		return nil, fmt.Errorf("public key: %w: does not belong to the private key", ErrInvalidKey)
	}
	pair.Public = pub
	return pair, nil
}

// readPEMBlock decodes the first PEM block of an inline value or of the file it names.
func readPEMBlock(value string) (*pem.Block, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrInvalidKey
	}
	var raw []byte
	if strings.HasPrefix(value, "-----BEGIN") {
		raw = []byte(strings.ReplaceAll(value, `\n`, "\n"))
	} else {
		b, err := os.ReadFile(value)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, ErrInvalidKey
	}
	return block, nil
}

func signerFromBlock(block *pem.Block) (crypto.Signer, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if signer, ok := key.(crypto.Signer); ok {
			return signer, nil
		}
	}
	return nil, ErrInvalidKey
}

func publicFromBlock(block *pem.Block) (crypto.PublicKey, error) {
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	}
	return nil, ErrInvalidKey
}

func signingMethod(pub crypto.PublicKey) jwt.SigningMethod {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		if k.Curve == elliptic.P256() {
			return jwt.SigningMethodES256
		}
	}
	return nil
}
