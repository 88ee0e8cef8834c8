// Copyright 2024 The emerald Authors

package engineapi

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v4"

	"github.com/emerald-chain/emerald/internal/shimerr"
)

// jwtSource reads a 32-byte shared secret from disk and mints HS256 bearer
// tokens over {iat: unix_seconds} on demand, per spec.md §4.1/§6.1. It
// watches the secret file with fsnotify so operators can rotate the secret
// without restarting the shim.
type jwtSource struct {
	path string

	mu     sync.RWMutex
	secret []byte

	watcher *fsnotify.Watcher
	closeCh chan struct{}
}

func newJWTSource(path string) (*jwtSource, error) {
	s := &jwtSource{path: path, closeCh: make(chan struct{})}
	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Hot-reload is a convenience, not a correctness requirement; a
		// watcher failure shouldn't prevent startup.
		return s, nil
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return s, nil
	}
	s.watcher = watcher
	go s.watchLoop()
	return s, nil
}

func (s *jwtSource) watchLoop() {
	for {
		select {
		case <-s.closeCh:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				_ = s.reload()
			}
		case <-s.watcher.Errors:
		}
	}
}

func (s *jwtSource) reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return shimerr.Errorf(shimerr.KindFatalConfig, "jwt-unreadable", "reading jwt secret %s: %w", s.path, err)
	}

	text := strings.TrimSpace(string(raw))
	text = strings.TrimPrefix(text, "0x")

	secret, err := hex.DecodeString(text)
	if err != nil {
		return shimerr.Errorf(shimerr.KindFatalConfig, "jwt-malformed", "jwt secret %s is not valid hex: %w", s.path, err)
	}
	if len(secret) != 32 {
		return shimerr.Errorf(shimerr.KindFatalConfig, "jwt-wrong-length",
			"jwt secret %s must decode to 32 bytes, got %d", s.path, len(secret))
	}

	s.mu.Lock()
	s.secret = secret
	s.mu.Unlock()
	return nil
}

// token mints a fresh HS256 bearer token. Engine-API servers accept iat
// within a ±60s window (spec.md §4.1), so a new token is minted per call
// rather than cached across the window.
func (s *jwtSource) token() (string, error) {
	s.mu.RLock()
	secret := s.secret
	s.mu.RUnlock()

	claims := jwt.MapClaims{"iat": time.Now().Unix()}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing engine-api jwt: %w", err)
	}
	return signed, nil
}

func (s *jwtSource) close() {
	close(s.closeCh)
	if s.watcher != nil {
		s.watcher.Close()
	}
}
