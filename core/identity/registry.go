package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adalundhe/rad/core/database"
)

// Profile is the human-facing data attached to a person URN.
type Profile struct {
	URN     URN       `json:"urn"`
	Name    string    `json:"name"`
	ENS     string    `json:"ens,omitempty"`
	Peer    PeerID    `json:"peer"`
	Created time.Time `json:"created"`
}

// ProfileSource looks up profiles by URN. A nil profile with a nil error
// means the URN is unknown locally.
type ProfileSource interface {
	Profile(ctx context.Context, urn URN) (*Profile, error)
}

var registryMigrations = []database.Migration{
	{
		Version:     1,
		Description: "create persons",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE TABLE persons (
				urn        TEXT PRIMARY KEY,
				name       TEXT NOT NULL,
				ens        TEXT NOT NULL DEFAULT '',
				peer       TEXT NOT NULL,
				created_at INTEGER NOT NULL
			)`)
			return err
		},
	},
	{
		Version:     2,
		Description: "index persons by peer",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX persons_peer ON persons (peer)`)
			return err
		},
	},
}

// Registry stores known person profiles in sqlite.
type Registry struct {
	db *database.DB
}

// OpenRegistry opens (and migrates) the registry database at path.
func OpenRegistry(ctx context.Context, mgr *database.Manager, path string) (*Registry, error) {
	db, err := mgr.Open(ctx, path, database.Options{Schema: registryMigrations})
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	return &Registry{db: db}, nil
}

// Put inserts or replaces a profile.
func (r *Registry) Put(ctx context.Context, p Profile) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO persons (urn, name, ens, peer, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(urn) DO UPDATE SET name = excluded.name, ens = excluded.ens, peer = excluded.peer`,
		string(p.URN), p.Name, p.ENS, string(p.Peer), p.Created.Unix(),
	)
	if err != nil {
		return fmt.Errorf("put profile %s: %w", p.URN, err)
	}
	return nil
}

// Profile returns the profile for urn, or nil when none is registered.
func (r *Registry) Profile(ctx context.Context, urn URN) (*Profile, error) {
	row := r.db.QueryRow(ctx,
		`SELECT urn, name, ens, peer, created_at FROM persons WHERE urn = ?`, string(urn))
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", urn, err)
	}
	return p, nil
}

// ByPeer returns the profile whose device key is peer, or nil.
func (r *Registry) ByPeer(ctx context.Context, peer PeerID) (*Profile, error) {
	row := r.db.QueryRow(ctx,
		`SELECT urn, name, ens, peer, created_at FROM persons WHERE peer = ? ORDER BY created_at LIMIT 1`, string(peer))
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile for peer %s: %w", peer, err)
	}
	return p, nil
}

// All lists every registered profile by name.
func (r *Registry) All(ctx context.Context) ([]Profile, error) {
	rows, err := r.db.Query(ctx, `SELECT urn, name, ens, peer, created_at FROM persons ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(s scanner) (*Profile, error) {
	var (
		p       Profile
		urn     string
		peer    string
		created int64
	)
	if err := s.Scan(&urn, &p.Name, &p.ENS, &peer, &created); err != nil {
		return nil, err
	}
	p.URN = URN(urn)
	p.Peer = PeerID(peer)
	p.Created = time.Unix(created, 0).UTC()
	return &p, nil
}
