package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// Domain separation labels. The seed derivation, the chain step and the tag
// transform must never share input domains, otherwise a revealed value could
// be replayed across roles.
const (
	chainSeedInfo = "coepi-chain-seed-v1"
	tokenDomain   = "coepi-token-v1"
)

// DeriveChainStart derives v[0] from a root secret via HKDF-SHA256.
// The root secret itself is never used as a chain value, so revealing any
// v[i] can never expose it.
func DeriveChainStart(secret RootSecret) (ChainValue, error) {
	var v ChainValue
	kdf := hkdf.New(sha256.New, secret[:], nil, []byte(chainSeedInfo))
	if _, err := kdf.Read(v[:]); err != nil {
		return v, fmt.Errorf("deriving chain start: %w", err)
	}
	return v, nil
}

// NextChainValue computes v[i+1] = SHA-256(v[i]), the forward-only chain step.
func NextChainValue(v ChainValue) ChainValue {
	return ChainValue(sha256.Sum256(v[:]))
}

// ChainValueAt walks the chain forward from a known value. steps may be zero,
// in which case the input is returned unchanged.
func ChainValueAt(from ChainValue, steps uint32) ChainValue {
	v := from
	for i := uint32(0); i < steps; i++ {
		v = NextChainValue(v)
	}
	return v
}

// TokenAt derives the broadcast token for tick index from its chain value.
// The tag transform is SHA3-256, independent from the SHA-256 chain step,
// truncated to TokenSize bytes. The index is bound into the input so equal
// chain values at different ticks (never expected, but cheap to exclude)
// still yield distinct tokens.
func TokenAt(index uint32, v ChainValue) Token {
	h := sha3.New256()
	h.Write([]byte(tokenDomain))
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], index)
	h.Write(idx[:])
	h.Write(v[:])

	var t Token
	copy(t[:], h.Sum(nil))
	return t
}

// ExpandSegment recomputes the tokens implied by a revealed chain segment.
// seed must equal v[start]; the half-open range [start, end) is expanded, so
// start == end yields no tokens. Callers are expected to have validated the
// range and its length against the disclosure window policy beforehand.
func ExpandSegment(seed ChainValue, start, end uint32) ([]Token, error) {
	if end < start {
		return nil, fmt.Errorf("segment end %d precedes start %d", end, start)
	}
	tokens := make([]Token, 0, end-start)
	v := seed
	for i := start; i < end; i++ {
		tokens = append(tokens, TokenAt(i, v))
		v = NextChainValue(v)
	}
	return tokens, nil
}
