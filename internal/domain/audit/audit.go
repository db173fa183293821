// Package audit maintains a tamper-evident hash chain over a session's
// violation log. Each link is a BLAKE3 keyed hash of the previous link and
// the deterministic CBOR encoding of one violation, so any edit, removal or
// reordering changes the final digest.
package audit

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/codec"
	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 chain value.
type Digest [32]byte

// ErrDigestMismatch is returned by Verify when the log does not reproduce the digest.
var ErrDigestMismatch = errors.New("audit digest mismatch")

// Domain keys are ASCII names zero-padded to 32 bytes.
var (
	genesisKey = [32]byte{
		'p', 'r', 'o', 'c', 't', 'o', 'r', '.', 'a', 'u', 'd', 'i', 't', '.',
		'g', 'e', 'n', 'e', 's', 'i', 's',
	}
	linkKey = [32]byte{
		'p', 'r', 'o', 'c', 't', 'o', 'r', '.', 'a', 'u', 'd', 'i', 't', '.',
		'l', 'i', 'n', 'k',
	}
)

// String returns the lowercase hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest decodes the hex form produced by String.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(d) {
		return d, fmt.Errorf("%w: malformed digest %q", ErrDigestMismatch, s)
	}
	copy(d[:], b)
	return d, nil
}

func keyed(key [32]byte, parts ...[]byte) Digest {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("audit: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Chain is the running digest of one session. Not safe for concurrent use.
type Chain struct {
	head  Digest
	links int
}

// NewChain starts a chain bound to sessionID.
func NewChain(sessionID string) *Chain {
	return &Chain{head: keyed(genesisKey, []byte(sessionID))}
}

// Append folds v into the chain.
func (c *Chain) Append(v model.Violation) error {
	enc, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode violation %d: %w", v.Sequence, err)
	}
	c.head = keyed(linkKey, c.head[:], enc)
	c.links++
	return nil
}

// Head is the digest after every appended violation.
func (c *Chain) Head() Digest { return c.head }

// Len is the number of appended violations.
func (c *Chain) Len() int { return c.links }

// Seal computes the digest of a complete log.
func Seal(sessionID string, violations []model.Violation) (Digest, error) {
	c := NewChain(sessionID)
	for _, v := range violations {
		if err := c.Append(v); err != nil {
			return Digest{}, err
		}
	}
	return c.Head(), nil
}

// Verify recomputes the chain and compares it with the hex digest.
func Verify(sessionID string, violations []model.Violation, digest string) error {
	want, err := ParseDigest(digest)
	if err != nil {
		return err
	}
	got, err := Seal(sessionID, violations)
	if err != nil {
		return err
	}
	if got != want {
		return ErrDigestMismatch
	}
	return nil
}
