package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultResolverCacheSize = 256

// Resolver memoizes profile lookups for the lifetime of one process.
// Unknown URNs are memoized too.
type Resolver struct {
	source ProfileSource
	cache  *lru.Cache[URN, *Profile]
}

func NewResolver(source ProfileSource, size int) (*Resolver, error) {
	if size <= 0 {
		size = DefaultResolverCacheSize
	}
	cache, err := lru.New[URN, *Profile](size)
	if err != nil {
		return nil, fmt.Errorf("resolver cache: %w", err)
	}
	return &Resolver{source: source, cache: cache}, nil
}

func (r *Resolver) Profile(ctx context.Context, urn URN) (*Profile, error) {
	if p, ok := r.cache.Get(urn); ok {
		return p, nil
	}
	p, err := r.source.Profile(ctx, urn)
	if err != nil {
		return nil, err
	}
	r.cache.Add(urn, p)
	return p, nil
}

// Local is the identity this process writes as.
type Local struct {
	Signer  *Signer
	Profile Profile
}

// LoadLocal reads the device key at keyPath and finds its profile.
func LoadLocal(ctx context.Context, keyPath string, registry *Registry) (*Local, error) {
	signer, err := LoadSigner(keyPath)
	if err != nil {
		return nil, err
	}
	profile, err := registry.ByPeer(ctx, signer.PeerID())
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: key %s has no profile", ErrNoIdentity, signer.PeerID().Short())
	}
	return &Local{Signer: signer, Profile: *profile}, nil
}

// InitLocal creates the local identity: a device key at keyPath (reused if
// one exists) and a registered profile called name.
func InitLocal(ctx context.Context, keyPath string, registry *Registry, name string, now time.Time) (*Local, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("identity name cannot be empty")
	}

	signer, err := LoadSigner(keyPath)
	if errors.Is(err, ErrNoIdentity) {
		signer, err = GenerateSigner()
		if err == nil {
			err = signer.Save(keyPath, name)
		}
	}
	if err != nil {
		return nil, err
	}

	urn, err := NewURN(signer.PeerID(), name)
	if err != nil {
		return nil, err
	}
	profile := Profile{URN: urn, Name: name, Peer: signer.PeerID(), Created: now.UTC().Truncate(time.Second)}
	if err := registry.Put(ctx, profile); err != nil {
		return nil, err
	}
	return &Local{Signer: signer, Profile: profile}, nil
}

// URN returns the person URN of the local identity.
func (l *Local) URN() URN {
	return l.Profile.URN
}

// PeerID returns the device peer id of the local identity.
func (l *Local) PeerID() PeerID {
	return l.Signer.PeerID()
}
