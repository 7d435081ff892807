package filegen

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Dialer opens a new SFTPClient against a payer's configured server. The
// production wiring points this at DialSFTP; tests substitute a fake.
type Dialer func(ctx context.Context, addr, username, password string) (SFTPClient, error)

// Decryptor turns a payer's encrypted SFTP password column into a usable
// plaintext credential. Decryption happens lazily, only when a session is
// actually dialed, so an unused/inactive payer config never needs a live key.
type Decryptor func(encrypted string) (string, error)

// IdentityDecryptor treats the stored value as already-plaintext. Used when
// no secrets-manager integration is configured; production deployments
// should supply a Decryptor backed by their actual key management.
func IdentityDecryptor(encrypted string) (string, error) { return encrypted, nil }

// cacheKey identifies one pooled connection target: the same payer dialing
// the same host/port/username shares a pool (§4.7's session caching).
type cacheKey struct {
	payerID  string
	host     string
	port     int
	username string
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", k.payerID, k.host, k.port, k.username)
}

// sessionPool holds idle SFTPClients for one cacheKey, bounded at poolSize.
type sessionPool struct {
	mu    sync.Mutex
	idle  []SFTPClient
	cap   int
}

// CachingSessionFactory is the registry of pooled SFTP sessions keyed by
// (payerId, host, port, username), grounded on the same keyed-registry shape
// as the messaging provider registry: Acquire/Release/Evict semantics, one
// entry per connection target. Unlike that registry, entries here are live
// network sessions that must be health-checked on acquire and explicitly
// evicted.
type CachingSessionFactory struct {
	mu       sync.Mutex
	pools    map[cacheKey]*sessionPool
	poolSize int
	dial     Dialer
	decrypt  Decryptor
	timeout  time.Duration
}

// NewCachingSessionFactory builds a factory with the given pool size per
// cache key (defaulting to 5, §6's sftp.poolSize), dialer and password
// decryptor.
func NewCachingSessionFactory(poolSize int, dial Dialer, decrypt Decryptor, connTimeout time.Duration) *CachingSessionFactory {
	if poolSize <= 0 {
		poolSize = 5
	}
	if connTimeout <= 0 {
		connTimeout = 30 * time.Second
	}
	return &CachingSessionFactory{
		pools:    make(map[cacheKey]*sessionPool),
		poolSize: poolSize,
		dial:     dial,
		decrypt:  decrypt,
		timeout:  connTimeout,
	}
}

// Acquire returns an idle session for payer if one passes a test-on-acquire
// check, otherwise dials a fresh one. The caller must Release it (or Evict
// the whole pool, on a hard failure) when done.
func (f *CachingSessionFactory) Acquire(ctx context.Context, payer PayerConfig) (SFTPClient, error) {
	key := cacheKey{payerID: payer.ID, host: payer.SFTPHost, port: payer.SFTPPort, username: payer.SFTPUsername}
	pool := f.poolFor(key)

	if client := pool.takeIdle(); client != nil {
		return client, nil
	}

	password, err := f.decrypt(payer.SFTPEncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("decrypting sftp password for payer %s: %w", payer.ID, err)
	}
	addr := fmt.Sprintf("%s:%d", payer.SFTPHost, payer.SFTPPort)
	client, err := f.dial(ctx, addr, payer.SFTPUsername, password)
	if err != nil {
		return nil, fmt.Errorf("dialing sftp session for %s: %w", key, err)
	}
	return client, nil
}

// Release returns client to its payer's idle pool, closing it outright if
// the pool is already at capacity.
func (f *CachingSessionFactory) Release(payer PayerConfig, client SFTPClient) {
	key := cacheKey{payerID: payer.ID, host: payer.SFTPHost, port: payer.SFTPPort, username: payer.SFTPUsername}
	pool := f.poolFor(key)

	pool.mu.Lock()
	defer pool.mu.Unlock()
	if len(pool.idle) >= pool.cap {
		client.Close()
		return
	}
	pool.idle = append(pool.idle, client)
}

// Evict closes and discards every cached session for payerID, for use when
// the payer's SFTP configuration changes underneath a running process.
func (f *CachingSessionFactory) Evict(payerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, pool := range f.pools {
		if key.payerID != payerID {
			continue
		}
		pool.mu.Lock()
		for _, c := range pool.idle {
			c.Close()
		}
		pool.idle = nil
		pool.mu.Unlock()
		delete(f.pools, key)
	}
}

// CloseAll closes every pooled session. Called on process shutdown.
func (f *CachingSessionFactory) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, pool := range f.pools {
		pool.mu.Lock()
		for _, c := range pool.idle {
			c.Close()
		}
		pool.idle = nil
		pool.mu.Unlock()
		delete(f.pools, key)
	}
}

func (f *CachingSessionFactory) poolFor(key cacheKey) *sessionPool {
	f.mu.Lock()
	defer f.mu.Unlock()
	pool, ok := f.pools[key]
	if !ok {
		pool = &sessionPool{cap: f.poolSize}
		f.pools[key] = pool
	}
	return pool
}

// takeIdle pops the most recently released client and discards it instead
// of handing it out if it fails the test-on-acquire probe.
func (p *sessionPool) takeIdle() SFTPClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.idle) > 0 {
		n := len(p.idle) - 1
		client := p.idle[n]
		p.idle = p.idle[:n]
		if prober, ok := client.(interface{ Alive() bool }); ok && !prober.Alive() {
			client.Close()
			continue
		}
		return client
	}
	return nil
}
