// Package cobtest builds in-memory object stores for tests.
package cobtest

import (
	"testing"
	"time"

	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/identity"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/require"
)

// Epoch is the time every test clock starts at.
var Epoch = time.Unix(1700000000, 0).UTC()

// Clock returns a clock that advances one second per call.
func Clock() func() time.Time {
	now := Epoch
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

// Peer is a test identity with the store it writes through.
type Peer struct {
	Signer *identity.Signer
	Author cob.Author
	Store  *cob.Store
}

// NewRepo returns an empty in-memory repository.
func NewRepo(t *testing.T) *gogit.Repository {
	t.Helper()

	repo, err := gogit.Init(memory.NewStorage(), nil)
	require.NoError(t, err)
	return repo
}

// NewPeer generates an identity called name writing to repo.
func NewPeer(t *testing.T, repo *gogit.Repository, name string) *Peer {
	t.Helper()

	signer, err := identity.GenerateSigner()
	require.NoError(t, err)
	urn, err := identity.NewURN(signer.PeerID(), name)
	require.NoError(t, err)
	store, err := cob.NewStore(repo, cob.StoreConfig{Namespace: "project", Signer: signer, Clock: Clock()})
	require.NoError(t, err)
	return &Peer{
		Signer: signer,
		Author: cob.NewAuthor(urn, signer.PeerID()),
		Store:  store,
	}
}
