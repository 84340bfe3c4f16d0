// Package session implements the authentication half of the local backend
// emulation: a registry of identities with credentials, plus the single
// "currently signed in" identity per store instance's substrate.
//
// All operations write through to the substrate before returning, so a
// read issued immediately after a mutation observes the new state, whether
// it comes from this process or another one sharing the substrate.
package session

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/maruel/ksid"
	"github.com/signbase/signbase/internal/errcode"
	"github.com/signbase/signbase/internal/kvstore"
	"golang.org/x/crypto/bcrypt"
)

// Identity is the public projection of a registered user. Credential
// fields never appear here.
type Identity struct {
	ID          ksid.ID   `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
}

// Clone returns a copy of the identity.
func (i *Identity) Clone() *Identity {
	c := *i
	return &c
}

// Patch is a partial profile update. Nil fields are left untouched.
type Patch struct {
	DisplayName *string `json:"displayName,omitempty"`
}

// identityRecord is the registry row: projection plus credential hash.
// Only the registry key ever sees this shape.
type identityRecord struct {
	Identity
	PasswordHash string `json:"password_hash"`
}

// Store owns the identity registry and the current-identity projection.
type Store struct {
	kv kvstore.Store
	mu sync.Mutex // serializes registry read-modify-write cycles
}

// New creates a session store over the given substrate.
func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Register appends a new identity to the registry, signs it in and returns
// its public projection. Fails with AlreadyExists if the email is taken,
// leaving the registry unchanged.
func (s *Store) Register(email, password string, profile Patch) (*Identity, error) {
	if email == "" || password == "" {
		return nil, errcode.InvalidArgument("email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errcode.StorageFailure("failed to hash password", err)
	}
	now := time.Now().UTC()
	rec := identityRecord{
		Identity: Identity{
			ID:       ksid.NewID(),
			Email:    email,
			Created:  now,
			Modified: now,
		},
		PasswordHash: string(hash),
	}
	if profile.DisplayName != nil {
		rec.DisplayName = *profile.DisplayName
	}
	if err := s.appendRecord(rec); err != nil {
		return nil, err
	}
	// Published after the registry lock is released: the substrate notifies
	// subscribers synchronously inside Set, and their callbacks may call
	// back into any store method.
	if err := s.setCurrent(&rec.Identity); err != nil {
		return nil, err
	}
	return rec.Identity.Clone(), nil
}

// appendRecord adds rec to the registry under the lock. Fails with
// AlreadyExists if the email is taken, leaving the registry unchanged.
func (s *Store) appendRecord(rec identityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadRegistry()
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.Email == rec.Email {
			return errcode.AlreadyExists("identity")
		}
	}
	return s.saveRegistry(append(records, rec))
}

// SignIn authenticates against the registry and sets the current identity.
// Fails with NotFound when no entry matches both email and password;
// unknown email and wrong password are deliberately indistinguishable.
func (s *Store) SignIn(email, password string) (*Identity, error) {
	matched, err := s.findByCredentials(email, password)
	if err != nil {
		return nil, err
	}
	if err := s.setCurrent(matched); err != nil {
		return nil, err
	}
	return matched.Clone(), nil
}

func (s *Store) findByCredentials(email, password string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadRegistry()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.Email != email {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(r.PasswordHash), []byte(password)) != nil {
			break
		}
		return r.Identity.Clone(), nil
	}
	return nil, errcode.NotFound("identity")
}

// SignOut clears the current identity. Idempotent; the registry entry
// survives.
func (s *Store) SignOut() error {
	if err := s.kv.Delete(kvstore.KeyCurrentIdentity); err != nil {
		return errcode.StorageFailure("failed to clear current identity", err)
	}
	return nil
}

// UpdateProfile merges patch into both the matching registry entry and the
// current-identity projection. No-op when nobody is signed in.
func (s *Store) UpdateProfile(id ksid.ID, patch Patch) error {
	current, err := s.current()
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	now := time.Now().UTC()
	if err := s.patchRecord(id, patch, now); err != nil {
		return err
	}
	if current.ID == id {
		applyPatch(current, patch, now)
		// Outside the registry lock, like Register and SignIn, so the
		// notified subscribers may call back into the store.
		return s.setCurrent(current)
	}
	return nil
}

// patchRecord merges patch into the matching registry entry under the
// lock. No-op when the id is not registered.
func (s *Store) patchRecord(id ksid.ID, patch Patch, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadRegistry()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID != id {
			continue
		}
		applyPatch(&records[i].Identity, patch, now)
		return s.saveRegistry(records)
	}
	return nil
}

// RequestPasswordReset verifies the email exists. No mail is sent; the
// hosted service would, the emulation only logs.
func (s *Store) RequestPasswordReset(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadRegistry()
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.Email == email {
			slog.Info("password reset requested", "email", email)
			return nil
		}
	}
	return errcode.NotFound("identity")
}

// Current returns a snapshot of the signed-in identity, or nil. It reads a
// single substrate key and takes no store lock, so subscriber callbacks
// may call it re-entrantly from inside a mutation's notification.
func (s *Store) Current() (*Identity, error) {
	return s.current()
}

// Lookup returns the public projection of the registry entry with the
// given id. Fails with NotFound when absent.
func (s *Store) Lookup(id ksid.ID) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadRegistry()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID == id {
			return r.Identity.Clone(), nil
		}
	}
	return nil, errcode.NotFound("identity")
}

// Subscribe invokes cb immediately with the current identity (nil when
// signed out) and again after every change to it, including changes made
// by another process sharing the substrate. Multiple independent
// subscriptions are supported; the returned func cancels this one.
//
// Callbacks run synchronously inside the mutating call but after the
// store's internal locks are released, so cb may call any store method,
// including mutating ones.
func (s *Store) Subscribe(cb func(*Identity)) (cancel func()) {
	current, err := s.Current()
	if err != nil {
		slog.Warn("failed to read current identity", "err", err)
	}
	cb(current)
	return s.kv.Subscribe(func(key string) {
		if key != kvstore.KeyCurrentIdentity {
			return
		}
		current, err := s.Current()
		if err != nil {
			slog.Warn("failed to read current identity", "err", err)
			return
		}
		cb(current)
	})
}

func applyPatch(identity *Identity, patch Patch, now time.Time) {
	if patch.DisplayName != nil {
		identity.DisplayName = *patch.DisplayName
	}
	identity.Modified = now
}

func (s *Store) current() (*Identity, error) {
	raw, ok, err := s.kv.Get(kvstore.KeyCurrentIdentity)
	if err != nil {
		return nil, errcode.StorageFailure("failed to read current identity", err)
	}
	if !ok {
		return nil, nil
	}
	var identity Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return nil, errcode.StorageFailure("failed to decode current identity", err)
	}
	return &identity, nil
}

func (s *Store) setCurrent(identity *Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return errcode.StorageFailure("failed to encode current identity", err)
	}
	if err := s.kv.Set(kvstore.KeyCurrentIdentity, string(data)); err != nil {
		return errcode.StorageFailure("failed to write current identity", err)
	}
	return nil
}

func (s *Store) loadRegistry() ([]identityRecord, error) {
	raw, ok, err := s.kv.Get(kvstore.KeyIdentities)
	if err != nil {
		return nil, errcode.StorageFailure("failed to read identity registry", err)
	}
	if !ok {
		return nil, nil
	}
	var records []identityRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, errcode.StorageFailure("failed to decode identity registry", err)
	}
	return records, nil
}

func (s *Store) saveRegistry(records []identityRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return errcode.StorageFailure("failed to encode identity registry", err)
	}
	if err := s.kv.Set(kvstore.KeyIdentities, string(data)); err != nil {
		return errcode.StorageFailure("failed to write identity registry", err)
	}
	return nil
}
