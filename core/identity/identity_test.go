package identity

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adalundhe/rad/core/database"
	"github.com/adalundhe/rad/core/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	mgr := database.NewManager(&storage.Dirs{Data: t.TempDir()})
	t.Cleanup(func() { mgr.Close() })

	reg, err := OpenRegistry(context.Background(), mgr, "registry")
	require.NoError(t, err)
	return reg
}

type countingSource struct {
	calls    int
	profiles map[URN]*Profile
}

func (s *countingSource) Profile(_ context.Context, urn URN) (*Profile, error) {
	s.calls++
	return s.profiles[urn], nil
}

// =============================================================================
// PeerID / URN Tests
// =============================================================================

func TestPeerID_RoundTrip(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)

	peer := signer.PeerID()
	assert.True(t, strings.HasPrefix(peer.String(), "z6Mk"))

	parsed, err := ParsePeerID(peer.String())
	require.NoError(t, err)
	assert.Equal(t, peer, parsed)

	pub, err := peer.PublicKey()
	require.NoError(t, err)
	assert.Len(t, pub, 32)
}

func TestParsePeerID_Invalid(t *testing.T) {
	for _, s := range []string{"", "z", "notmultibase", "bafkreigh2akiscaildc"} {
		_, err := ParsePeerID(s)
		assert.ErrorIs(t, err, ErrInvalidPeerID, s)
	}
}

func TestURN_DeterministicAndParseable(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)

	a, err := NewURN(signer.PeerID(), "alice")
	require.NoError(t, err)
	b, err := NewURN(signer.PeerID(), "alice")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a.String(), "rad:git:"))

	parsed, err := ParseURN(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
	assert.Len(t, a.Short(), 7)

	_, err = ParseURN("rad:git:")
	assert.ErrorIs(t, err, ErrInvalidURN)
	_, err = ParseURN("urn:other:abc")
	assert.ErrorIs(t, err, ErrInvalidURN)
}

// =============================================================================
// Signer Tests
// =============================================================================

func TestSigner_SignVerify(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)

	sig, err := signer.Sign([]byte("change bytes"))
	require.NoError(t, err)

	assert.NoError(t, Verify(signer.PeerID(), []byte("change bytes"), sig))
	assert.ErrorIs(t, Verify(signer.PeerID(), []byte("other bytes"), sig), ErrBadSignature)

	other, err := GenerateSigner()
	require.NoError(t, err)
	assert.ErrorIs(t, Verify(other.PeerID(), []byte("change bytes"), sig), ErrBadSignature)
}

func TestSigner_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "radicle")
	signer, err := GenerateSigner()
	require.NoError(t, err)
	require.NoError(t, signer.Save(path, "alice"))

	loaded, err := LoadSigner(path)
	require.NoError(t, err)
	assert.Equal(t, signer.PeerID(), loaded.PeerID())
	assert.True(t, strings.HasPrefix(loaded.AuthorizedKey(), "ssh-ed25519 "))

	_, err = LoadSigner(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNoIdentity)
}

// =============================================================================
// Registry / Resolver Tests
// =============================================================================

func TestRegistry_PutAndLookup(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	signer, err := GenerateSigner()
	require.NoError(t, err)
	urn, err := NewURN(signer.PeerID(), "alice")
	require.NoError(t, err)

	profile := Profile{URN: urn, Name: "alice", ENS: "alice.eth", Peer: signer.PeerID(), Created: time.Unix(1700000000, 0).UTC()}
	require.NoError(t, reg.Put(ctx, profile))

	got, err := reg.Profile(ctx, urn)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, profile, *got)

	byPeer, err := reg.ByPeer(ctx, signer.PeerID())
	require.NoError(t, err)
	require.NotNil(t, byPeer)
	assert.Equal(t, urn, byPeer.URN)

	missing, err := reg.Profile(ctx, URN("rad:git:unknown"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := reg.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestResolver_MemoizesLookups(t *testing.T) {
	urn := URN("rad:git:hnrk")
	src := &countingSource{profiles: map[URN]*Profile{urn: {URN: urn, Name: "bob"}}}

	r, err := NewResolver(src, 0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		p, err := r.Profile(context.Background(), urn)
		require.NoError(t, err)
		assert.Equal(t, "bob", p.Name)
	}
	_, err = r.Profile(context.Background(), URN("rad:git:nobody"))
	require.NoError(t, err)
	_, err = r.Profile(context.Background(), URN("rad:git:nobody"))
	require.NoError(t, err)

	assert.Equal(t, 2, src.calls)
}

func TestInitLocal_ThenLoadLocal(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	keyPath := filepath.Join(t.TempDir(), "radicle")

	local, err := InitLocal(ctx, keyPath, reg, "  carol ", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "carol", local.Profile.Name)

	loaded, err := LoadLocal(ctx, keyPath, reg)
	require.NoError(t, err)
	assert.Equal(t, local.URN(), loaded.URN())
	assert.Equal(t, local.PeerID(), loaded.PeerID())

	_, err = InitLocal(ctx, keyPath, reg, " ", time.Now())
	assert.Error(t, err)
}
