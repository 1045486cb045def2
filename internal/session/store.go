package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	sessionFile = "auth-storage.json"
	resortFile  = "resort-storage.json"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type Resort struct {
	ID       string `json:"_id"`
	Name     string `json:"resort_name"`
	Location string `json:"location"`
}

// Session is the persisted auth blob.
type Session struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

// ResortCache is the persisted resort blob.
type ResortCache struct {
	Resorts           []Resort `json:"resorts"`
	HasResorts        bool     `json:"hasResorts"`
	HasCheckedResorts bool     `json:"hasCheckedResorts"`
}

// Store holds the two independently persisted client-state blobs. Both are
// rehydrated asynchronously at startup; callers that depend on auth state
// must Await rehydration first.
type Store struct {
	dir string
	log *zap.SugaredLogger

	mu       sync.RWMutex
	sess     Session
	resorts  ResortCache
	hydrated chan struct{}
	once     sync.Once
}

func NewStore(dir string, log *zap.SugaredLogger) *Store {
	return &Store{dir: dir, log: log, hydrated: make(chan struct{})}
}

// Rehydrate loads both blobs from disk in the background. Missing or
// unreadable files leave the zero state in place.
func (s *Store) Rehydrate() {
	s.once.Do(func() {
		go func() {
			defer close(s.hydrated)

			var sess Session
			if err := readJSON(filepath.Join(s.dir, sessionFile), &sess); err == nil {
				s.mu.Lock()
				s.sess = sess
				s.mu.Unlock()
			} else if !os.IsNotExist(err) {
				s.log.Warnw("session rehydrate failed", "err", err)
			}

			var rc ResortCache
			if err := readJSON(filepath.Join(s.dir, resortFile), &rc); err == nil {
				s.mu.Lock()
				s.resorts = rc
				s.mu.Unlock()
			} else if !os.IsNotExist(err) {
				s.log.Warnw("resort cache rehydrate failed", "err", err)
			}
		}()
	})
}

// Await blocks until rehydration completes or ctx expires.
func (s *Store) Await(ctx context.Context) error {
	select {
	case <-s.hydrated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.Token
}

func (s *Store) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sess.User == nil {
		return nil
	}
	u := *s.sess.User
	return &u
}

// UserID returns the user id from the stored user, falling back to the
// userId claim of the JWT when the user blob is absent.
func (s *Store) UserID() string {
	s.mu.RLock()
	sess := s.sess
	s.mu.RUnlock()

	if sess.User != nil && sess.User.ID != "" {
		return sess.User.ID
	}
	if sess.Token == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(sess.Token, claims); err != nil {
		s.log.Warnw("token decode failed", "err", err)
		return ""
	}
	id, _ := claims["userId"].(string)
	return id
}

// SetSession persists the auth blob after a successful login.
func (s *Store) SetSession(user *User, token string) error {
	s.mu.Lock()
	s.sess = Session{User: user, Token: token}
	blob := s.sess
	s.mu.Unlock()
	return writeJSON(filepath.Join(s.dir, sessionFile), blob)
}

// Logout clears the auth blob in memory and on disk.
func (s *Store) Logout() error {
	s.mu.Lock()
	s.sess = Session{}
	s.mu.Unlock()
	return os.Remove(filepath.Join(s.dir, sessionFile))
}

func (s *Store) Resorts() []Resort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Resort, len(s.resorts.Resorts))
	copy(out, s.resorts.Resorts)
	return out
}

func (s *Store) HasResorts() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resorts.HasResorts
}

func (s *Store) HasCheckedResorts() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resorts.HasCheckedResorts
}

// SetResorts persists the resort cache blob.
func (s *Store) SetResorts(resorts []Resort) error {
	s.mu.Lock()
	s.resorts = ResortCache{
		Resorts:           resorts,
		HasResorts:        len(resorts) > 0,
		HasCheckedResorts: true,
	}
	blob := s.resorts
	s.mu.Unlock()
	return writeJSON(filepath.Join(s.dir, resortFile), blob)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
