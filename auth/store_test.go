package auth

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestAddUserAndLogin(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "auth.dat"))
	if err := s.AddUser("user1", "password1"); err != nil {
		t.Fatal(err)
	}
	if !s.IsValidLogin("user1", "password1") {
		t.Error("valid login rejected")
	}
	if s.IsValidLogin("user1", "password2") {
		t.Error("wrong password accepted")
	}
	if s.IsValidLogin("nobody", "password1") {
		t.Error("unknown user accepted")
	}
}

func TestAddUserDuplicate(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "auth.dat"))
	if err := s.AddUser("user1", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddUser("user1", "b"); err != ErrUserExists {
		t.Error("expected ErrUserExists, got", err)
	}
}

func TestAddUserEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "auth.dat"))
	if err := s.AddUser("", "x"); err != ErrEmptyCredentials {
		t.Error("expected ErrEmptyCredentials, got", err)
	}
	if err := s.AddUser("x", ""); err != ErrEmptyCredentials {
		t.Error("expected ErrEmptyCredentials, got", err)
	}
}

func TestSaltsDiffer(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "auth.dat"))
	s.AddUser("a", "same")
	s.AddUser("b", "same")
	s.mu.RLock()
	defer s.mu.RUnlock()
	if bytes.Equal(s.users["a"].Salt, s.users["b"].Salt) {
		t.Error("two users share a salt")
	}
	if s.users["a"].Digest == s.users["b"].Digest {
		t.Error("same password, same digest despite salts")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.dat")
	s := NewStore(path)
	s.AddUser("user1", "password1")
	s.AddUser("user2", "password2")
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	loaded := NewStore(path)
	if err := loaded.Load(); err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 2 {
		t.Fatal("expected 2 users, got", loaded.Len())
	}
	if !loaded.IsValidLogin("user1", "password1") {
		t.Error("user1 login failed after reload")
	}
	if !loaded.IsValidLogin("user2", "password2") {
		t.Error("user2 login failed after reload")
	}
	if loaded.IsValidLogin("user1", "password2") {
		t.Error("crossed passwords accepted after reload")
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "does-not-exist.dat"))
	if err := s.Load(); err != nil {
		t.Error("missing file should not be an error, got", err)
	}
	if s.Len() != 0 {
		t.Error("expected an empty store")
	}
}

func TestUsernamesSorted(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "auth.dat"))
	s.AddUser("charlie", "x")
	s.AddUser("alice", "x")
	s.AddUser("bob", "x")
	got := s.Usernames()
	want := []string{"alice", "bob", "charlie"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatal("not sorted:", got)
		}
	}
}

func TestSelfCheck(t *testing.T) {
	if err := SelfCheck(); err != nil {
		t.Fatal(err)
	}
}
