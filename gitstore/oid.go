package gitstore

import (
	"bytes"
	"encoding/hex"
	"fmt"

	git2go "github.com/libgit2/git2go/v31"
)

const rawSize = 20

// Oid is a content-addressed object id (a SHA-1 digest over a git object),
// kept as a small value type rather than a pointer so Revision and friends
// can pass ids around cheaply and compare them with ==.
//
// NOTE the zero Oid is used as a sentinel meaning "ref does not exist yet"
// in UpdateRef's CAS contract (expectPrevious).
type Oid [rawSize]byte

func (o Oid) String() string {
	return hex.EncodeToString(o[:])
}

func (o Oid) IsZero() bool {
	return o == Oid{}
}

func (o Oid) Equal(other Oid) bool {
	return o == other
}

// ParseOid decodes a hex string into an Oid.
func ParseOid(s string) (Oid, error) {
	var o Oid
	if hex.DecodedLen(len(s)) != rawSize {
		return Oid{}, fmt.Errorf("gitstore: %q is not a valid object id", s)
	}
	if _, err := hex.Decode(o[:], []byte(s)); err != nil {
		return Oid{}, fmt.Errorf("gitstore: %q is not a valid object id: %w", s, err)
	}
	return o, nil
}

func (o Oid) toGit() *git2go.Oid {
	g := &git2go.Oid{}
	copy(g[:], o[:])
	return g
}

func fromGit(g *git2go.Oid) Oid {
	var o Oid
	copy(o[:], g[:])
	return o
}

// ByOid sorts a slice of Oid by byte order.
type ByOid []Oid

func (p ByOid) Len() int      { return len(p) }
func (p ByOid) Swap(i, j int) { p[i], p[j] = p[j], p[i] }
func (p ByOid) Less(i, j int) bool {
	return bytes.Compare(p[i][:], p[j][:]) < 0
}
