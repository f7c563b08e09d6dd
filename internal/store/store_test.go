package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type testHost struct {
	Title string `json:"title"`
	Port  int    `json:"port"`
}

func TestPlainRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.dat")

	s, err := Open(path, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("a", testHost{Title: "alpha", Port: 22}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := Open(path, "")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	var got testHost
	ok, err := reopened.Get("a", &got)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Title != "alpha" || got.Port != 22 {
		t.Errorf("got %+v, want alpha:22", got)
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.dat")

	s, err := Open(path, "hunter2")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("a", testHost{Title: "alpha", Port: 2222}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Ciphertext must not leak the plaintext.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(raw) == "" {
		t.Fatal("file empty after Set")
	}
	var env map[string]any
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("envelope not JSON: %v", err)
	}
	if _, ok := env["token"]; !ok {
		t.Error("encrypted envelope missing token field")
	}
	if _, ok := env["data"]; ok {
		t.Error("encrypted envelope must not carry plain data")
	}

	reopened, err := Open(path, "hunter2")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	var got testHost
	ok, err := reopened.Get("a", &got)
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if got.Port != 2222 {
		t.Errorf("got port %d, want 2222", got.Port)
	}
}

func TestWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.dat")

	s, err := Open(path, "correct")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("a", "value"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := Open(path, "wrong")
	if !errors.Is(err, ErrDecryption) {
		t.Fatalf("err = %v, want ErrDecryption", err)
	}
	if reopened == nil || reopened.Len() != 0 {
		t.Error("store after failed decryption should be empty but usable")
	}
}

func TestMissingPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.dat")

	s, err := Open(path, "secret")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("a", "value"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := Open(path, ""); !errors.Is(err, ErrDecryption) {
		t.Errorf("err = %v, want ErrDecryption", err)
	}
}

func TestTamperedToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.dat")

	s, err := Open(path, "secret")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("a", "value"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env struct {
		Version int    `json:"version"`
		Salt    []byte `json:"salt"`
		Token   string `json:"token"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// Flip a character in the body of the token.
	b := []byte(env.Token)
	mid := len(b) / 2
	if b[mid] == 'A' {
		b[mid] = 'B'
	} else {
		b[mid] = 'A'
	}
	env.Token = string(b)
	tampered, _ := json.Marshal(&env)
	if err := os.WriteFile(path, tampered, 0o600); err != nil {
		t.Fatalf("write tampered: %v", err)
	}

	if _, err := Open(path, "secret"); !errors.Is(err, ErrDecryption) {
		t.Errorf("err = %v, want ErrDecryption", err)
	}
}

func TestCorruptContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.dat")
	if err := os.WriteFile(path, []byte("not json at all"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := Open(path, "")
	if !errors.Is(err, ErrCorruptStore) {
		t.Fatalf("err = %v, want ErrCorruptStore", err)
	}
	if s == nil || s.Len() != 0 {
		t.Error("store after corruption should be empty but usable")
	}

	// Recovery: a write replaces the corrupt file.
	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set after corruption: %v", err)
	}
	if _, err := Open(path, ""); err != nil {
		t.Errorf("reopen after recovery: %v", err)
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.dat")
	s, err := Open(path, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("a", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove("a"); err != nil {
		t.Errorf("Remove of absent key: %v", err)
	}

	reopened, err := Open(path, "")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	var out int
	if ok, _ := reopened.Get("a", &out); ok {
		t.Error("removed key still present after reopen")
	}
}

func TestKeysAndNewKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.dat")
	s, err := Open(path, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	k1, k2 := NewKey(), NewKey()
	if k1 == k2 {
		t.Fatal("NewKey returned duplicate identifiers")
	}
	if err := s.Set(k1, "x"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(k2, "y"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	keys := s.Keys()
	if len(keys) != 2 {
		t.Errorf("Keys() = %v, want 2 entries", keys)
	}
}

func TestFreshSaltPerWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.dat")
	s, err := Open(path, "secret")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	readSalt := func() string {
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var env struct {
			Salt []byte `json:"salt"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return string(env.Salt)
	}

	if err := s.Set("a", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	first := readSalt()
	if err := s.Set("a", 2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if readSalt() == first {
		t.Error("salt reused across writes")
	}
}
