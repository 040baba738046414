package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// Signer signs change data with a device key.
type Signer struct {
	key    ed25519.PrivateKey
	signer ssh.Signer
	peer   PeerID
}

// GenerateSigner creates a new Ed25519 device key.
func GenerateSigner() (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewSigner(priv)
}

// NewSigner wraps an existing private key.
func NewSigner(key ed25519.PrivateKey) (*Signer, error) {
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, fmt.Errorf("ssh signer: %w", err)
	}
	return &Signer{
		key:    key,
		signer: signer,
		peer:   PeerIDFromKey(key.Public().(ed25519.PublicKey)),
	}, nil
}

// LoadSigner reads an OpenSSH private key file.
func LoadSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNoIdentity, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	raw, err := ssh.ParseRawPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	switch k := raw.(type) {
	case ed25519.PrivateKey:
		return NewSigner(k)
	case *ed25519.PrivateKey:
		return NewSigner(*k)
	default:
		return nil, fmt.Errorf("unsupported key type %T", raw)
	}
}

// Save writes the key in OpenSSH format with owner-only permissions.
func (s *Signer) Save(path, comment string) error {
	block, err := ssh.MarshalPrivateKey(s.key, comment)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0600)
}

// PeerID returns the peer id of the signing key.
func (s *Signer) PeerID() PeerID {
	return s.peer
}

// AuthorizedKey renders the public key in authorized_keys format.
func (s *Signer) AuthorizedKey() string {
	return string(ssh.MarshalAuthorizedKey(s.signer.PublicKey()))
}

// Sign returns the wire encoding of an SSH signature over data.
func (s *Signer) Sign(data []byte) ([]byte, error) {
	sig, err := s.signer.Sign(rand.Reader, data)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return ssh.Marshal(sig), nil
}

// Verify checks that sig was produced over data by the key behind peer.
func Verify(peer PeerID, data, sig []byte) error {
	pub, err := peer.PublicKey()
	if err != nil {
		return err
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return fmt.Errorf("ssh public key: %w", err)
	}
	var decoded ssh.Signature
	if err := ssh.Unmarshal(sig, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if err := sshPub.Verify(data, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}
