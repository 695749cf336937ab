package sshpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// newTestPool builds a Pool without a real signer; these tests exercise the
// bucket bookkeeping (release, error-count eviction, reap) directly rather
// than dialing a real SSH server.
func newTestPool() *Pool {
	return New("svc", nil, 2, 50*time.Millisecond, 1, time.Second)
}

func fakeConn(ep endpoint) *Conn {
	return &Conn{endpoint: ep, lastUsed: time.Now()}
}

func TestPool_ReleaseMarksIdle(t *testing.T) {
	p := newTestPool()
	ep := endpoint{host: "10.0.0.1", port: 22}
	c := fakeConn(ep)
	c.inUse = true
	p.buckets[ep] = []*Conn{c}

	p.Release(c)
	assert.False(t, c.inUse)
}

func TestPool_ReleaseEvictsAfterMaxErrors(t *testing.T) {
	p := newTestPool()
	ep := endpoint{host: "10.0.0.1", port: 22}
	c := fakeConn(ep)
	c.inUse = true
	c.errorCount = maxConnectionErrors
	p.buckets[ep] = []*Conn{c}

	p.Release(c)
	assert.Len(t, p.buckets[ep], 0)
}

func TestPool_MarkErrorIncrements(t *testing.T) {
	p := newTestPool()
	c := fakeConn(endpoint{host: "10.0.0.1", port: 22})
	p.MarkError(c)
	p.MarkError(c)
	assert.Equal(t, 2, c.errorCount)
}

func TestPool_ReapBucketDropsIdleDeadConnections(t *testing.T) {
	// A fake connection with no underlying client reports dead() == true,
	// so an idle one is always a reap candidate regardless of lastUsed.
	p := newTestPool()
	ep := endpoint{host: "10.0.0.1", port: 22}
	idle := fakeConn(ep)
	p.buckets[ep] = []*Conn{idle}

	p.reapBucket(ep)

	assert.Len(t, p.buckets[ep], 0)
}

func TestPool_ReapBucketKeepsInUseConnections(t *testing.T) {
	p := newTestPool()
	ep := endpoint{host: "10.0.0.1", port: 22}
	busy := fakeConn(ep)
	busy.inUse = true
	busy.lastUsed = time.Now().Add(-time.Hour)
	p.buckets[ep] = []*Conn{busy}

	p.reapBucket(ep)

	assert.Len(t, p.buckets[ep], 1)
}

func TestPool_ShutdownEmptiesAllBuckets(t *testing.T) {
	p := newTestPool()
	epA := endpoint{host: "10.0.0.1", port: 22}
	epB := endpoint{host: "10.0.0.2", port: 22}
	p.buckets[epA] = []*Conn{fakeConn(epA)}
	p.buckets[epB] = []*Conn{fakeConn(epB)}

	p.Shutdown()

	assert.Len(t, p.buckets, 0)
}
