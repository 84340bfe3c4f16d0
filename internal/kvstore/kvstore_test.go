package kvstore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMemory(t *testing.T) {
	m := NewMemory()
	testStoreContract(t, m)
	if got := m.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}
}

func TestFile(t *testing.T) {
	f, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = f.Close() })
	testStoreContract(t, f)
}

// testStoreContract exercises the behavior every Store must provide.
func testStoreContract(t *testing.T, s Store) {
	t.Helper()
	if _, ok, err := s.Get("missing"); err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v; want absent", ok, err)
	}
	if err := s.Set("greeting", `"hello"`); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.Get("greeting")
	if err != nil || !ok || v != `"hello"` {
		t.Fatalf("Get(greeting) = %q, %v, %v", v, ok, err)
	}
	if err := s.Set("greeting", `"bye"`); err != nil {
		t.Fatal(err)
	}
	if v, _, _ = s.Get("greeting"); v != `"bye"` {
		t.Fatalf("Get(greeting) = %q, want overwrite", v)
	}
	if err := s.Delete("greeting"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ = s.Get("greeting"); ok {
		t.Fatal("Get(greeting) after Delete: still present")
	}
	// Deleting an absent key is not an error.
	if err := s.Delete("greeting"); err != nil {
		t.Fatal(err)
	}
}

func TestMemorySubscribe(t *testing.T) {
	m := NewMemory()
	var mu sync.Mutex
	var keys []string
	cancel := m.Subscribe(func(key string) {
		mu.Lock()
		keys = append(keys, key)
		mu.Unlock()
	})
	if err := m.Set("a", "1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete("a"); err != nil {
		t.Fatal(err)
	}
	// Deleting an absent key must not notify.
	if err := m.Delete("a"); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := m.Set("b", "2"); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if want := []string{"a", "a"}; strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("notifications = %v, want %v", keys, want)
	}
}

func TestFileDurability(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Set("users", `[]`); err != nil {
		t.Fatal(err)
	}
	if err := f.Set("videos/asl", `[{"id":"x"}]`); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	// A fresh store over the same directory sees everything.
	f2, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = f2.Close() })
	v, ok, err := f2.Get("videos/asl")
	if err != nil || !ok || v != `[{"id":"x"}]` {
		t.Fatalf("Get(videos/asl) = %q, %v, %v", v, ok, err)
	}
}

func TestFileNoTornValues(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = f.Close() })
	if err := f.Set("k", "v"); err != nil {
		t.Fatal(err)
	}
	// Writes go through a rename, so no temp files linger.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "k.json")); err != nil {
		t.Fatal(err)
	}
}

func TestFileExternalChange(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close() })
	b, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })

	notified := make(chan string, 16)
	cancel := a.Subscribe(func(key string) { notified <- key })
	defer cancel()

	// A write through the second store reaches the first store's
	// subscribers via the filesystem watcher.
	if err := b.Set("currentUser", `{"id":"u1"}`); err != nil {
		t.Fatal(err)
	}
	select {
	case key := <-notified:
		if key != "currentUser" {
			t.Fatalf("notified for %q, want currentUser", key)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification for external write")
	}
	v, ok, err := a.Get("currentUser")
	if err != nil || !ok || v != `{"id":"u1"}` {
		t.Fatalf("Get(currentUser) = %q, %v, %v", v, ok, err)
	}
}

func TestFileLastWriterWins(t *testing.T) {
	// Two stores over one directory behave like two tabs over one
	// localStorage: concurrent writers to the same key race and the later
	// rename wins, but the key always holds one writer's complete value.
	dir := t.TempDir()
	a, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close() })
	b, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = a.Set("contest", "from-a")
		}()
		go func() {
			defer wg.Done()
			_ = b.Set("contest", "from-b")
		}()
	}
	wg.Wait()
	v, ok, err := a.Get("contest")
	if err != nil || !ok {
		t.Fatalf("Get(contest) = %v, %v", ok, err)
	}
	if v != "from-a" && v != "from-b" {
		t.Fatalf("torn value %q", v)
	}
}

func TestKeyFromFilename(t *testing.T) {
	data := []struct {
		name string
		key  string
		ok   bool
	}{
		{"users.json", "users", true},
		{"videos%2Fasl.json", "videos/asl", true},
		{".tmp-123456", "", false},
		{"notes.txt", "", false},
	}
	for _, line := range data {
		key, ok := keyFromFilename(line.name)
		if key != line.key || ok != line.ok {
			t.Errorf("keyFromFilename(%q) = %q, %v; want %q, %v", line.name, key, ok, line.key, line.ok)
		}
	}
}
