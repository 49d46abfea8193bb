package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// TokenSize is the byte length of a broadcast token.
const TokenSize = 16

// ChainValueSize is the byte length of an internal chain value.
const ChainValueSize = 32

// RootSecretSize is the byte length of a per-epoch root secret.
const RootSecretSize = 32

// Token represents the externally broadcast, anonymous identifier for one
// time tick. Tokens are the only chain-derived values that ever leave the
// device.
type Token [TokenSize]byte

// NewTokenFromBytes creates a Token from a byte slice.
// Returns an error if the slice is not exactly TokenSize bytes long.
func NewTokenFromBytes(data []byte) (Token, error) {
	var t Token
	if len(data) != TokenSize {
		return t, fmt.Errorf("token must be %d bytes, got %d", TokenSize, len(data))
	}
	copy(t[:], data)
	return t, nil
}

// NewTokenFromString creates a Token from a hex-encoded string.
func NewTokenFromString(data string) (Token, error) {
	rawBytes, err := hex.DecodeString(data)
	if err != nil {
		return Token{}, err
	}
	return NewTokenFromBytes(rawBytes)
}

// Bytes returns the token as a byte slice.
func (t Token) Bytes() []byte {
	return t[:]
}

// Equal compares two tokens in constant time.
func (t Token) Equal(other Token) bool {
	return subtle.ConstantTimeCompare(t[:], other[:]) == 1
}

// String returns a hex-encoded string representation of the token.
// This is useful for logging and for using the token as a map or store key.
func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

// MarshalJSON encodes the token as a hex string.
func (t Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the token from a hex string.
func (t *Token) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := NewTokenFromString(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ChainValue represents an internal, non-broadcast hash-chain value.
// Chain values never leave the device except as the revealed seed of a
// self-disclosed report.
type ChainValue [ChainValueSize]byte

// NewChainValueFromBytes creates a ChainValue from a byte slice.
func NewChainValueFromBytes(data []byte) (ChainValue, error) {
	var v ChainValue
	if len(data) != ChainValueSize {
		return v, fmt.Errorf("chain value must be %d bytes, got %d", ChainValueSize, len(data))
	}
	copy(v[:], data)
	return v, nil
}

// Bytes returns the chain value as a byte slice.
func (v ChainValue) Bytes() []byte {
	return v[:]
}

// String returns a hex-encoded string representation of the chain value.
// This method should be used carefully as it exposes sensitive material.
func (v ChainValue) String() string {
	return hex.EncodeToString(v[:])
}

// MarshalJSON encodes the chain value as a hex string.
func (v ChainValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON decodes the chain value from a hex string.
func (v *ChainValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	rawBytes, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	parsed, err := NewChainValueFromBytes(rawBytes)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// RootSecret is the per-epoch random secret from which a hash chain is
// seeded. It is generated once per rotation epoch and never transmitted.
type RootSecret [RootSecretSize]byte

// NewRootSecret generates a fresh random root secret.
func NewRootSecret() (RootSecret, error) {
	var s RootSecret
	if _, err := rand.Read(s[:]); err != nil {
		return s, fmt.Errorf("generating root secret: %w", err)
	}
	return s, nil
}

// NewRootSecretFromBytes creates a RootSecret from a byte slice.
func NewRootSecretFromBytes(data []byte) (RootSecret, error) {
	var s RootSecret
	if len(data) != RootSecretSize {
		return s, fmt.Errorf("root secret must be %d bytes, got %d", RootSecretSize, len(data))
	}
	copy(s[:], data)
	return s, nil
}

// Bytes returns the root secret as a byte slice.
// This method should be used carefully as it exposes sensitive material.
func (s RootSecret) Bytes() []byte {
	return s[:]
}

// ReportPublicKey verifies signatures on self-disclosed reports. Each report
// carries its own ephemeral verification key, so keys link nothing across
// reports.
type ReportPublicKey []byte

// NewReportPublicKeyFromBytes creates a ReportPublicKey from a byte slice.
// This function makes a copy of the input data to ensure immutability.
func NewReportPublicKeyFromBytes(data []byte) ReportPublicKey {
	pk := make([]byte, len(data))
	copy(pk, data)
	return ReportPublicKey(pk)
}

// Bytes returns the public key as a byte slice.
func (pk ReportPublicKey) Bytes() []byte {
	return pk
}

// String returns a hex-encoded string representation of the public key.
func (pk ReportPublicKey) String() string {
	return hex.EncodeToString(pk)
}

// ReportPrivateKey signs a self-disclosed report. The key is generated for a
// single report and discarded after signing.
type ReportPrivateKey []byte

// PublicKey derives the verification key corresponding to this signing key.
func (sk ReportPrivateKey) PublicKey() (ReportPublicKey, error) {
	if len(sk) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid report private key size")
	}
	return ReportPublicKey(sk[32:]), nil
}

// GenerateReportKeyPair generates a fresh Ed25519 key pair used to sign a
// single report.
func GenerateReportKeyPair() (ReportPublicKey, ReportPrivateKey, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return ReportPublicKey(publicKey), ReportPrivateKey(privateKey), nil
}

// Signature represents an Ed25519 signature over a report's canonical bytes.
type Signature []byte

// NewSignature creates a Signature from a byte slice.
// This function makes a copy of the input data to ensure immutability.
func NewSignature(data []byte) Signature {
	sig := make([]byte, len(data))
	copy(sig, data)
	return Signature(sig)
}

// Bytes returns the signature as a byte slice.
func (s Signature) Bytes() []byte {
	return []byte(s)
}

// Verify checks if this signature is valid for the given data and public key.
func (s Signature) Verify(publicKey ReportPublicKey, data []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), data, s)
}

// String returns a hex-encoded string representation of the signature.
func (s Signature) String() string {
	return hex.EncodeToString(s.Bytes())
}

// Sign signs data with the given report private key.
func Sign(privateKey ReportPrivateKey, data []byte) (Signature, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid report private key size")
	}
	return Signature(ed25519.Sign(ed25519.PrivateKey(privateKey), data)), nil
}
