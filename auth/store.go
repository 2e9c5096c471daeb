// Package auth keeps the credential store: salted SHA-1 digests persisted in
// a length-prefixed binary file. Passwords are hashed the moment they arrive
// and never stored.
package auth

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pigeonpost/go-pigeon/internal/binrec"
)

// SaltSize is the number of random bytes mixed into each digest.
const SaltSize = 16

var (
	// ErrUserExists is returned by AddUser for a duplicate username
	ErrUserExists = errors.New("auth: user already exists")
	// ErrEmptyCredentials rejects blank usernames or passwords
	ErrEmptyCredentials = errors.New("auth: username and password must not be empty")
)

// User is one stored credential. Digest is the lowercase hex SHA-1 of
// salt followed by the password bytes.
type User struct {
	Username string
	Salt     []byte
	Digest   string
}

// Store holds the credentials for one server. All methods are safe for
// concurrent use.
type Store struct {
	path string

	mu    sync.RWMutex
	users map[string]User
}

// NewStore creates an empty store that persists to path. Call Load to read
// an existing file.
func NewStore(path string) *Store {
	return &Store{
		path:  path,
		users: make(map[string]User),
	}
}

// Load replaces the store's contents with the file at its path. A missing
// file leaves the store empty and is not an error.
func (s *Store) Load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	users := make(map[string]User)
	for {
		username, err := binrec.ReadString(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("auth: reading %s: %w", s.path, err)
		}
		digest, err := binrec.ReadString(f)
		if err != nil {
			return fmt.Errorf("auth: reading %s: %w", s.path, err)
		}
		salt, err := binrec.ReadBytes(f)
		if err != nil {
			return fmt.Errorf("auth: reading %s: %w", s.path, err)
		}
		users[username] = User{Username: username, Salt: salt, Digest: digest}
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	return nil
}

// Save writes every credential back to the store's path. The file is written
// to a temp file first and renamed into place.
func (s *Store) Save() error {
	s.mu.RLock()
	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.RUnlock()
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	for _, u := range users {
		if err == nil {
			err = binrec.WriteString(f, u.Username)
		}
		if err == nil {
			err = binrec.WriteString(f, u.Digest)
		}
		if err == nil {
			err = binrec.WriteBytes(f, u.Salt)
		}
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path)
}

// AddUser salts and hashes password and records the credential. It does not
// persist; call Save after.
func (s *Store) AddUser(username, password string) error {
	if username == "" || password == "" {
		return ErrEmptyCredentials
	}
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.users[username]; taken {
		return ErrUserExists
	}
	s.users[username] = User{
		Username: username,
		Salt:     salt,
		Digest:   digest(salt, password),
	}
	return nil
}

// IsValidLogin reports whether the username exists and the password matches
// its stored digest. The comparison is constant time.
func (s *Store) IsValidLogin(username, password string) bool {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(digest(u.Salt, password)), []byte(u.Digest)) == 1
}

// HasUser reports whether username is known.
func (s *Store) HasUser(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[username]
	return ok
}

// Len returns the number of stored credentials.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Usernames returns the stored usernames, sorted.
func (s *Store) Usernames() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.users))
	for name := range s.users {
		out = append(out, name)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func digest(salt []byte, password string) string {
	h := sha1.New()
	h.Write(salt)
	h.Write([]byte(password))
	return hex.EncodeToString(h.Sum(nil))
}

// SelfCheck hashes a known vector and verifies the result, guarding against
// a miscompiled or tampered digest path. Run once at startup.
func SelfCheck() error {
	salt := bytes.Repeat([]byte{0xAB}, 4)
	const want = "cddfe9ee2c80077f2e1c7fafbe3aa7607086c5e9"
	if got := digest(salt, "pigeon"); got != want {
		return fmt.Errorf("auth: digest self check failed: got %s", got)
	}
	return nil
}
