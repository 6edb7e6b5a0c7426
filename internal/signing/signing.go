// Package signing is the narrow, out-of-scope-per-specification
// collaborator that signs and verifies the hash of an exported tree. The
// source this store is modeled on shells out to an external RSA tool; this
// default implementation performs the same primitive in-process with
// crypto/rsa rather than spawning a subprocess, since nothing about the
// wire format depends on it being external.
package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

// Signer signs and verifies byte slices, returning/consuming an opaque
// string signature as the wire format's trailing `signature` field expects.
type Signer interface {
	Sign(data []byte) (string, error)
	Verify(data []byte, signature string) error
}

// RSASigner implements Signer with RSA PKCS#1v15 over a SHA-256 digest.
type RSASigner struct {
	priv *rsa.PrivateKey
	pub  *rsa.PublicKey
}

// NewRSASigner constructs a signer from an optional private key (needed for
// Sign) and public key (needed for Verify). Either may be nil if the
// corresponding operation will not be used.
func NewRSASigner(priv *rsa.PrivateKey, pub *rsa.PublicKey) *RSASigner {
	return &RSASigner{priv: priv, pub: pub}
}

// Sign returns a base64-encoded PKCS#1v15 signature over the SHA-256 digest
// of data.
func (s *RSASigner) Sign(data []byte) (string, error) {
	if s.priv == nil {
		return "", fmt.Errorf("signing: no private key loaded")
	}
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64-encoded PKCS#1v15 signature against the SHA-256
// digest of data.
func (s *RSASigner) Verify(data []byte, signature string) error {
	if s.pub == nil {
		return fmt.Errorf("signing: no public key loaded")
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("signing: decode signature: %w", err)
	}
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(s.pub, crypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("signing: verify: %w", err)
	}
	return nil
}

// GenerateKeyPair creates a fresh RSA key pair, sized for signing export
// archives rather than long-term secrecy.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 3072)
}

// WriteKeyFiles writes secPath/pubPath in PEM form. secPath is created with
// mode 0600 so it is never group- or other-readable, matching the
// requirement that ".sec must not be group/other-readable".
func WriteKeyFiles(priv *rsa.PrivateKey, secPath, pubPath string) error {
	secBytes := x509.MarshalPKCS1PrivateKey(priv)
	secPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: secBytes})
	if err := os.WriteFile(secPath, secPEM, 0o600); err != nil {
		return fmt.Errorf("signing: write %s: %w", secPath, err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("signing: marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: pubBytes})
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return fmt.Errorf("signing: write %s: %w", pubPath, err)
	}
	return nil
}

// LoadPrivateKey reads and parses a PEM-encoded RSA private key, rejecting
// it if the file is group- or other-readable.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("signing: stat %s: %w", path, err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("signing: %s must not be group/other readable (mode %o)", path, info.Mode().Perm())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signing: read %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("signing: %s is not valid PEM", path)
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// LoadPublicKey reads and parses a PEM-encoded RSA public key.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signing: read %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("signing: %s is not valid PEM", path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signing: parse public key %s: %w", path, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("signing: %s is not an RSA public key", path)
	}
	return rsaPub, nil
}
