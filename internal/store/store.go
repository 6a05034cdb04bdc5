package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"session-guard/internal/model"
)

const (
	KeyToken   = "token"
	KeyProfile = "user"

	LegacyKeyToken   = "authToken"
	LegacyKeyProfile = "currentUser"
)

// CookieResetter drops authentication cookies held by an HTTP client.
type CookieResetter interface {
	Reset()
}

type Store struct {
	backend Backend
	cookies CookieResetter
}

func New(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) SetCookieJar(cookies CookieResetter) {
	s.cookies = cookies
}

// Save replaces the persisted pair. The token is removed first and written
// last, so a write interrupted half way leaves no token behind and the
// session reads as ABSENT rather than as a mismatched pair. A zero profile
// is not written: the user key is removed so readers see it as missing.
func (s *Store) Save(ctx context.Context, cred model.SessionCredential, profile model.UserProfile) error {
	profileOp := del(KeyProfile)
	if !profile.IsZero() {
		encoded, err := json.Marshal(profile)
		if err != nil {
			return &model.StorageError{Op: "encode", Key: KeyProfile, Err: err}
		}
		profileOp = set(KeyProfile, string(encoded))
	}

	ops := []Op{
		del(KeyToken),
		del(LegacyKeyToken),
		del(LegacyKeyProfile),
		profileOp,
		set(KeyToken, cred.Token),
	}
	if err := s.backend.Apply(ctx, ops); err != nil {
		return &model.StorageError{Op: "save", Err: err}
	}
	return nil
}

// Read returns the raw persisted values. Keys from the previous schema are
// reported through Snapshot.LegacyKey when the current ones are missing.
func (s *Store) Read(ctx context.Context) (model.Snapshot, error) {
	var snap model.Snapshot

	token, ok, err := s.backend.Get(ctx, AreaLocal, KeyToken)
	if err != nil {
		return snap, &model.StorageError{Op: "read", Key: KeyToken, Err: err}
	}
	profileKey := KeyProfile
	if !ok {
		token, ok, err = s.backend.Get(ctx, AreaLocal, LegacyKeyToken)
		if err != nil {
			return snap, &model.StorageError{Op: "read", Key: LegacyKeyToken, Err: err}
		}
		if ok {
			snap.LegacyKey = LegacyKeyToken
			profileKey = LegacyKeyProfile
		}
	}
	snap.Token, snap.HasToken = token, ok

	profile, ok, err := s.backend.Get(ctx, AreaLocal, profileKey)
	if err != nil {
		return snap, &model.StorageError{Op: "read", Key: profileKey, Err: err}
	}
	// A literal null is what an absent user object looks like once encoded.
	if ok && strings.TrimSpace(profile) == "null" {
		ok = false
	}
	snap.ProfileJSON, snap.HasProfile = profile, ok

	return snap, nil
}

// Clear removes the pair, the legacy aliases, the whole session-scoped cache
// and any authentication cookies.
func (s *Store) Clear(ctx context.Context) error {
	ops := []Op{
		del(KeyToken),
		del(KeyProfile),
		del(LegacyKeyToken),
		del(LegacyKeyProfile),
		{Kind: OpClearArea, Area: AreaSession},
	}
	if err := s.backend.Apply(ctx, ops); err != nil {
		return &model.StorageError{Op: "clear", Err: err}
	}
	if s.cookies != nil {
		s.cookies.Reset()
	}
	return nil
}

func (s *Store) SetSessionCache(ctx context.Context, key string, value string) error {
	if key == "" {
		return fmt.Errorf("%w: empty cache key", model.ErrInvalidInput)
	}
	if err := s.backend.Apply(ctx, []Op{{Kind: OpSet, Area: AreaSession, Key: key, Value: value}}); err != nil {
		return &model.StorageError{Op: "cache", Key: key, Err: err}
	}
	return nil
}

func (s *Store) SessionCache(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := s.backend.Get(ctx, AreaSession, key)
	if err != nil {
		return "", false, &model.StorageError{Op: "read", Key: key, Err: err}
	}
	return value, ok, nil
}
