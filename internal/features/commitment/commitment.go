// Package commitment binds a CID to the 32-byte digest published on-chain
// before the CID itself is revealed.
package commitment

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

const Size = sha256.Size

var ErrInvalidCommitment = errors.New("invalid commitment")

// Commitment is SHA-256 over the UTF-8 bytes of a CID.
type Commitment [Size]byte

// Commit hashes cid. It is total over any string.
func Commit(cid string) Commitment {
	return sha256.Sum256([]byte(cid))
}

// Verify reports whether cid hashes to c. The comparison is constant time.
func Verify(cid string, c Commitment) bool {
	got := Commit(cid)
	return subtle.ConstantTimeCompare(got[:], c[:]) == 1
}

// FromBytes copies a raw 32-byte digest.
func FromBytes(b []byte) (Commitment, error) {
	var c Commitment
	if len(b) != Size {
		return c, fmt.Errorf("%w: got %d bytes", ErrInvalidCommitment, len(b))
	}
	copy(c[:], b)
	return c, nil
}

// ParseHex decodes the hex text form.
func ParseHex(s string) (Commitment, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Commitment{}, fmt.Errorf("%w: %v", ErrInvalidCommitment, err)
	}
	return FromBytes(raw)
}

func (c Commitment) String() string {
	return hex.EncodeToString(c[:])
}

func (c Commitment) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Commitment) UnmarshalText(text []byte) error {
	parsed, err := ParseHex(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
