// Package identity provides the peer and person identities that author
// collaborative objects: device keys, their multibase peer ids, person URNs,
// and the local profile registry used to resolve URNs to names.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrInvalidPeerID = errors.New("invalid peer id")
	ErrInvalidURN    = errors.New("invalid urn")
	ErrBadSignature  = errors.New("signature verification failed")
	ErrNoIdentity    = errors.New("no local identity")
)

// ed25519Multicodec is the multicodec prefix for Ed25519 public keys.
var ed25519Multicodec = []byte{0xed, 0x01}

// =============================================================================
// PeerID
// =============================================================================

// PeerID names a device by its Ed25519 public key, encoded as base58btc
// multibase over the multicodec-prefixed key ("z6Mk...").
type PeerID string

// PeerIDFromKey derives the peer id of pub.
func PeerIDFromKey(pub ed25519.PublicKey) PeerID {
	prefixed := append(append([]byte{}, ed25519Multicodec...), pub...)
	encoded, _ := multibase.Encode(multibase.Base58BTC, prefixed)
	return PeerID(encoded)
}

// ParsePeerID validates s as a peer id.
func ParsePeerID(s string) (PeerID, error) {
	p := PeerID(s)
	if _, err := p.PublicKey(); err != nil {
		return "", err
	}
	return p, nil
}

// PublicKey decodes the key the peer id was derived from.
func (p PeerID) PublicKey() (ed25519.PublicKey, error) {
	enc, data, err := multibase.Decode(string(p))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerID, err)
	}
	if enc != multibase.Base58BTC {
		return nil, fmt.Errorf("%w: expected base58btc encoding", ErrInvalidPeerID)
	}
	if !bytes.HasPrefix(data, ed25519Multicodec) || len(data) != len(ed25519Multicodec)+ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: not an ed25519 key", ErrInvalidPeerID)
	}
	return ed25519.PublicKey(data[len(ed25519Multicodec):]), nil
}

func (p PeerID) String() string {
	return string(p)
}

// Short abbreviates the peer id for display.
func (p PeerID) Short() string {
	s := string(p)
	if len(s) <= 14 {
		return s
	}
	return s[:6] + "…" + s[len(s)-6:]
}

// =============================================================================
// URN
// =============================================================================

const urnPrefix = "rad:git:"

// URN names a person across devices.
type URN string

type urnDocument struct {
	Key  PeerID `json:"key"`
	Name string `json:"name"`
}

// NewURN derives the URN of a person from the key that created the identity
// and the name it was created with.
func NewURN(key PeerID, name string) (URN, error) {
	data, err := json.Marshal(urnDocument{Key: key, Name: name})
	if err != nil {
		return "", err
	}
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	c := gocid.NewCidV1(gocid.Raw, mh)
	encoded, err := multibase.Encode(multibase.Base32, c.Bytes())
	if err != nil {
		return "", err
	}
	return URN(urnPrefix + encoded), nil
}

// ParseURN validates s as a URN.
func ParseURN(s string) (URN, error) {
	id, ok := strings.CutPrefix(s, urnPrefix)
	if !ok || id == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURN, s)
	}
	if _, err := gocid.Decode(id); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURN, err)
	}
	return URN(s), nil
}

func (u URN) String() string {
	return string(u)
}

// ID returns the URN without its scheme prefix.
func (u URN) ID() string {
	return strings.TrimPrefix(string(u), urnPrefix)
}

// Short abbreviates the URN for display.
func (u URN) Short() string {
	id := u.ID()
	if len(id) <= 7 {
		return id
	}
	return id[len(id)-7:]
}
