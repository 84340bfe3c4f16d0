package session

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signbase/signbase/internal/errcode"
	"github.com/signbase/signbase/internal/kvstore"
)

func TestRegisterSignIn(t *testing.T) {
	s := New(kvstore.NewMemory())
	name := "Alice"
	registered, err := s.Register("alice@example.com", "s3cret", Patch{DisplayName: &name})
	if err != nil {
		t.Fatal(err)
	}
	if registered.ID.IsZero() {
		t.Fatal("empty assigned id")
	}
	if registered.DisplayName != "Alice" {
		t.Fatalf("displayName = %q", registered.DisplayName)
	}
	// Register signs in.
	current, err := s.Current()
	if err != nil {
		t.Fatal(err)
	}
	if current == nil || current.ID != registered.ID {
		t.Fatalf("Current() = %v after register", current)
	}

	if err := s.SignOut(); err != nil {
		t.Fatal(err)
	}
	signedIn, err := s.SignIn("alice@example.com", "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	// The identity is stable across sign-ins.
	if signedIn.ID != registered.ID {
		t.Fatalf("id changed across sign-in: %v vs %v", signedIn.ID, registered.ID)
	}
}

func TestRegisterValidation(t *testing.T) {
	s := New(kvstore.NewMemory())
	if _, err := s.Register("", "pw", Patch{}); !errcode.IsCode(err, errcode.CodeInvalidArgument) {
		t.Fatalf("empty email: %v", err)
	}
	if _, err := s.Register("a@example.com", "", Patch{}); !errcode.IsCode(err, errcode.CodeInvalidArgument) {
		t.Fatalf("empty password: %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	kv := kvstore.NewMemory()
	s := New(kv)
	if _, err := s.Register("alice@example.com", "s3cret", Patch{}); err != nil {
		t.Fatal(err)
	}
	before, _, _ := kv.Get(kvstore.KeyIdentities)
	_, err := s.Register("alice@example.com", "other", Patch{})
	if !errcode.IsCode(err, errcode.CodeAlreadyExists) {
		t.Fatalf("duplicate register: %v", err)
	}
	// The failed attempt left the registry byte-for-byte unchanged.
	after, _, _ := kv.Get(kvstore.KeyIdentities)
	if before != after {
		t.Fatal("registry mutated by failed register")
	}
}

func TestSignInFailures(t *testing.T) {
	s := New(kvstore.NewMemory())
	if _, err := s.Register("alice@example.com", "s3cret", Patch{}); err != nil {
		t.Fatal(err)
	}
	if err := s.SignOut(); err != nil {
		t.Fatal(err)
	}
	// Unknown email and wrong password fail identically.
	_, errUnknown := s.SignIn("bob@example.com", "s3cret")
	_, errWrongPW := s.SignIn("alice@example.com", "wrong")
	if !errcode.IsCode(errUnknown, errcode.CodeNotFound) {
		t.Fatalf("unknown email: %v", errUnknown)
	}
	if !errcode.IsCode(errWrongPW, errcode.CodeNotFound) {
		t.Fatalf("wrong password: %v", errWrongPW)
	}
	if errUnknown.Error() != errWrongPW.Error() {
		t.Fatalf("distinguishable failures: %q vs %q", errUnknown, errWrongPW)
	}
	// Neither failed attempt signed anyone in.
	if current, _ := s.Current(); current != nil {
		t.Fatalf("Current() = %v after failed sign-ins", current)
	}
}

func TestSignOutIdempotent(t *testing.T) {
	s := New(kvstore.NewMemory())
	if _, err := s.Register("alice@example.com", "s3cret", Patch{}); err != nil {
		t.Fatal(err)
	}
	if err := s.SignOut(); err != nil {
		t.Fatal(err)
	}
	if err := s.SignOut(); err != nil {
		t.Fatal(err)
	}
	// The registry entry survives.
	if _, err := s.SignIn("alice@example.com", "s3cret"); err != nil {
		t.Fatal(err)
	}
}

func TestNoCredentialLeak(t *testing.T) {
	kv := kvstore.NewMemory()
	s := New(kv)
	if _, err := s.Register("alice@example.com", "s3cret", Patch{}); err != nil {
		t.Fatal(err)
	}
	// The current-identity projection never carries credential material.
	raw, ok, err := kv.Get(kvstore.KeyCurrentIdentity)
	if err != nil || !ok {
		t.Fatalf("Get(currentUser) = %v, %v", ok, err)
	}
	if strings.Contains(raw, "password") || strings.Contains(raw, "s3cret") {
		t.Fatalf("credential material in projection: %s", raw)
	}
	// The registry stores a hash, not the cleartext.
	raw, _, _ = kv.Get(kvstore.KeyIdentities)
	if strings.Contains(raw, "s3cret") {
		t.Fatal("cleartext password in registry")
	}
	if !strings.Contains(raw, "password_hash") {
		t.Fatalf("registry missing credential hash: %s", raw)
	}
}

func TestUpdateProfile(t *testing.T) {
	s := New(kvstore.NewMemory())
	registered, err := s.Register("alice@example.com", "s3cret", Patch{})
	if err != nil {
		t.Fatal(err)
	}
	name := "Alice L."
	if err := s.UpdateProfile(registered.ID, Patch{DisplayName: &name}); err != nil {
		t.Fatal(err)
	}
	current, err := s.Current()
	if err != nil {
		t.Fatal(err)
	}
	if current.DisplayName != "Alice L." {
		t.Fatalf("current displayName = %q", current.DisplayName)
	}
	if !current.Modified.After(registered.Modified) {
		t.Fatal("Modified not bumped")
	}
	// The registry entry was updated too.
	looked, err := s.Lookup(registered.ID)
	if err != nil {
		t.Fatal(err)
	}
	if looked.DisplayName != "Alice L." {
		t.Fatalf("registry displayName = %q", looked.DisplayName)
	}
}

func TestUpdateProfileSignedOut(t *testing.T) {
	s := New(kvstore.NewMemory())
	registered, err := s.Register("alice@example.com", "s3cret", Patch{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SignOut(); err != nil {
		t.Fatal(err)
	}
	name := "Ghost"
	if err := s.UpdateProfile(registered.ID, Patch{DisplayName: &name}); err != nil {
		t.Fatal(err)
	}
	// Signed out: the update was a no-op.
	looked, err := s.Lookup(registered.ID)
	if err != nil {
		t.Fatal(err)
	}
	if looked.DisplayName != "" {
		t.Fatalf("displayName = %q after signed-out update", looked.DisplayName)
	}
}

func TestLookup(t *testing.T) {
	s := New(kvstore.NewMemory())
	registered, err := s.Register("alice@example.com", "s3cret", Patch{})
	if err != nil {
		t.Fatal(err)
	}
	looked, err := s.Lookup(registered.ID)
	if err != nil {
		t.Fatal(err)
	}
	if looked.Email != "alice@example.com" {
		t.Fatalf("email = %q", looked.Email)
	}
	if _, err := s.Lookup(0); !errcode.IsCode(err, errcode.CodeNotFound) {
		t.Fatalf("missing id: %v", err)
	}
}

func TestRequestPasswordReset(t *testing.T) {
	s := New(kvstore.NewMemory())
	if _, err := s.Register("alice@example.com", "s3cret", Patch{}); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestPasswordReset("alice@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestPasswordReset("bob@example.com"); !errcode.IsCode(err, errcode.CodeNotFound) {
		t.Fatalf("unknown email: %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	s := New(kvstore.NewMemory())
	var mu sync.Mutex
	var seen []*Identity
	cancel := s.Subscribe(func(identity *Identity) {
		mu.Lock()
		seen = append(seen, identity)
		mu.Unlock()
	})
	defer cancel()

	// Immediate delivery of the signed-out state.
	mu.Lock()
	if len(seen) != 1 || seen[0] != nil {
		t.Fatalf("initial notifications = %v", seen)
	}
	mu.Unlock()

	registered, err := s.Register("alice@example.com", "s3cret", Patch{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SignOut(); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("got %d notifications, want 3", len(seen))
	}
	if seen[1] == nil || seen[1].ID != registered.ID {
		t.Fatalf("sign-in notification = %v", seen[1])
	}
	if seen[2] != nil {
		t.Fatalf("sign-out notification = %v", seen[2])
	}
}

func TestSubscribeCallbackReenters(t *testing.T) {
	// Callbacks fire synchronously inside mutating calls and may call any
	// store method, so the notification must be published after the
	// registry lock is released.
	s := New(kvstore.NewMemory())
	var looked *Identity
	cancel := s.Subscribe(func(identity *Identity) {
		if identity == nil {
			return
		}
		got, err := s.Lookup(identity.ID)
		if err != nil {
			t.Errorf("Lookup from callback: %v", err)
			return
		}
		looked = got
	})
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := s.Register("alice@example.com", "s3cret", Patch{})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Register blocked while the callback called Lookup")
	}
	if looked == nil || looked.Email != "alice@example.com" {
		t.Fatalf("lookup from callback = %v", looked)
	}

	// Mutating store calls from the callback must not block either.
	s2 := New(kvstore.NewMemory())
	cancel2 := s2.Subscribe(func(identity *Identity) {
		if identity != nil && identity.DisplayName == "" {
			name := "Alice"
			if err := s2.UpdateProfile(identity.ID, Patch{DisplayName: &name}); err != nil {
				t.Errorf("UpdateProfile from callback: %v", err)
			}
		}
	})
	defer cancel2()
	go func() {
		_, err := s2.Register("bob@example.com", "s3cret", Patch{})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Register blocked while the callback mutated the store")
	}
	current, err := s2.Current()
	if err != nil {
		t.Fatal(err)
	}
	if current == nil || current.DisplayName != "Alice" {
		t.Fatalf("Current() = %v after callback update", current)
	}
}

func TestSubscribeCancel(t *testing.T) {
	s := New(kvstore.NewMemory())
	count := 0
	cancel := s.Subscribe(func(*Identity) { count++ })
	cancel()
	if _, err := s.Register("alice@example.com", "s3cret", Patch{}); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("notified %d times after cancel, want only the immediate one", count)
	}
}

func TestSubscribeIgnoresOtherKeys(t *testing.T) {
	kv := kvstore.NewMemory()
	s := New(kv)
	count := 0
	cancel := s.Subscribe(func(*Identity) { count++ })
	defer cancel()
	if err := kv.Set("signs", `[]`); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("notified for unrelated key: %d", count)
	}
}
