package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Store persists response blobs keyed by request fingerprint. Expired
// entries are evicted lazily by Get.
type Store interface {
	Get(key string) (Entry, bool, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
	Close() error
}

type Entry struct {
	Value     []byte
	CreatedAt time.Time
	TTL       time.Duration
	Age       time.Duration
}

func (e Entry) expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// Key fingerprints a request as sha256(method|url|json(query)|json(body)).
// encoding/json sorts map keys, so equal maps yield equal keys.
func Key(method, url string, query, body any) string {
	q, _ := json.Marshal(query)
	b, _ := json.Marshal(body)
	raw := strings.Join([]string{strings.ToUpper(method), url, string(q), string(b)}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Options selects and sizes a backend.
type Options struct {
	Backend  string
	Path     string
	LockPath string
	MaxSize  int
	Now      func() time.Time
}

// Open returns the configured backend. Unknown backends fall back to sqlite.
func Open(opts Options) (Store, error) {
	if strings.EqualFold(opts.Backend, "memory") {
		return NewMemory(opts.MaxSize, opts.Now), nil
	}
	return OpenSQLite(opts.Path, opts.LockPath, opts.Now)
}
