package google

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// TokenStore reads and writes an OAuth token as a JSON file
type TokenStore struct {
	path string
}

// NewTokenStore creates a new token store for the given file
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Path returns the token file location
func (s *TokenStore) Path() string {
	return s.path
}

// Load reads the token file
func (s *TokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("unable to read token file: %w", err)
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(data, tok); err != nil {
		return nil, fmt.Errorf("unable to parse token file: %w", err)
	}
	return tok, nil
}

// Save replaces the token file atomically: readers see either the old
// or the new token, never a partial write
func (s *TokenStore) Save(tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("nil token")
	}

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to encode token: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("unable to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("unable to create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("unable to write token: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("unable to sync token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("unable to close token file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("unable to set token permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("unable to replace token file: %w", err)
	}

	return nil
}

// PersistingTokenSource saves every refreshed token to a TokenStore
type PersistingTokenSource struct {
	base   oauth2.TokenSource
	store  *TokenStore
	logger *zap.Logger

	mu   sync.Mutex
	last string
}

// NewPersistingTokenSource wraps base; initial is the token already on disk
func NewPersistingTokenSource(base oauth2.TokenSource, store *TokenStore, initial *oauth2.Token, logger *zap.Logger) *PersistingTokenSource {
	last := ""
	if initial != nil {
		last = initial.AccessToken
	}
	return &PersistingTokenSource{
		base:   base,
		store:  store,
		logger: logger,
		last:   last,
	}
}

// Token returns a valid token, writing it out when it changed
func (p *PersistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if tok.AccessToken != p.last {
		if err := p.store.Save(tok); err != nil {
			// The refreshed token is still usable for this process
			p.logger.Error("Failed to persist refreshed token",
				zap.String("path", p.store.Path()),
				zap.Error(err))
		} else {
			p.logger.Info("Persisted refreshed token", zap.String("path", p.store.Path()))
		}
		p.last = tok.AccessToken
	}

	return tok, nil
}
