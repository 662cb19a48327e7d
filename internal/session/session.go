// Package session implements the write-only session-ticket sink named
// in spec.md §6 and flagged experimental in spec.md §9: the engine
// writes opaque 0-RTT resumption blobs but never reads them back in
// this engine's visible code paths.
package session

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/QUIC-Lab/quic-lab/internal/model"
)

// shardWidth is the fixed width, in hex characters, of the shard
// prefix directory name under session_files/.
const shardWidth = 2

// Store writes session tickets to session_files/<shard>/<host>.session.
type Store struct {
	dir string
}

// New returns a Store rooted at dir (typically out_dir/session_files).
func New(dir string) *Store {
	return &Store{dir: dir}
}

// shard returns the fixed-width hex prefix of sha256(host).
func shard(host string) string {
	sum := sha256.Sum256([]byte(host))
	return hex.EncodeToString(sum[:])[:shardWidth]
}

// Write persists ticket for host, creating the shard directory if
// needed. This is a best-effort artifact: callers treat failures as
// sink errors (logged, dropped), not probe failures, per spec.md §7.
func (s *Store) Write(host string, ticket []byte) error {
	dir := filepath.Join(s.dir, shard(host))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &model.IoError{Cause: err}
	}
	path := filepath.Join(dir, host+".session")
	if err := os.WriteFile(path, ticket, 0o600); err != nil {
		return &model.IoError{Cause: err}
	}
	return nil
}

// clientSessionCache adapts a Store to crypto/tls.ClientSessionCache.
// Get always misses: this engine never resumes a session itself, it
// only harvests tickets for later out-of-process replay, per spec.md
// §9's "write-only, experimental" note.
type clientSessionCache struct {
	store  *Store
	host   string
	logger model.Logger
}

// NewClientSessionCache returns a tls.ClientSessionCache that writes
// every ticket crypto/tls hands it to store under host, via the
// SessionState serialization crypto/tls exposes for exactly this
// purpose (no ecosystem library wraps this; it is a one-shot call into
// the standard library's own QUIC-aware session API).
func NewClientSessionCache(store *Store, host string, logger model.Logger) tls.ClientSessionCache {
	if logger == nil {
		logger = model.DiscardLogger
	}
	return &clientSessionCache{store: store, host: host, logger: logger}
}

func (c *clientSessionCache) Get(sessionKey string) (*tls.ClientSessionState, bool) {
	return nil, false
}

func (c *clientSessionCache) Put(sessionKey string, cs *tls.ClientSessionState) {
	if cs == nil {
		return
	}
	_, state, err := cs.ResumptionState()
	if err != nil {
		c.logger.Debugf("session: resumption state unavailable for %s: %v", c.host, err)
		return
	}
	b, err := state.Bytes()
	if err != nil {
		c.logger.Debugf("session: encoding ticket for %s: %v", c.host, err)
		return
	}
	if err := c.store.Write(c.host, b); err != nil {
		c.logger.Debugf("session: writing ticket for %s: %v", c.host, err)
	}
}
