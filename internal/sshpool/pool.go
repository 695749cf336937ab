// Package sshpool implements spec.md component H: a per-endpoint pool of
// persistent SSH connections used by the cluster-mode Remote Executor. The
// bounded-pool-with-idle-reaper shape is grounded on mutagen's
// pkg/housekeeping/background.go, which runs a ticker-driven sweep over a
// bounded resource (its on-disk agent cache); reap here follows the same
// "collect, then act" split. The transport itself uses
// golang.org/x/crypto/ssh directly rather than mutagen's pkg/ssh (which
// shells out to the system ssh/scp binaries) because spec.md §4.H requires
// held-open, poolable connections keyed by (host, port) rather than one
// short-lived subprocess per operation.
package sshpool

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/LoopeyTheGreat/next-prism/internal/corelog"
	"github.com/LoopeyTheGreat/next-prism/internal/corerr"
)

// Reference values from spec.md §4.H.
const (
	DefaultMaxConnections = 4
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultMaxRetries     = 5
	maxConnectionErrors   = 3
)

// endpoint identifies a pool bucket.
type endpoint struct {
	host string
	port int
}

// Conn is a PooledConnection: a single persistent SSH client plus the pool
// bookkeeping fields from spec.md §3.
type Conn struct {
	id         string
	client     *ssh.Client
	endpoint   endpoint
	inUse      bool
	lastUsed   time.Time
	errorCount int
}

// ID returns the connection's correlation ID, assigned once at dial time, so
// callers can tie an Exec failure or pool eviction to a specific long-lived
// transport in logs.
func (c *Conn) ID() string {
	return c.id
}

// dead reports whether the underlying transport has closed.
func (c *Conn) dead() bool {
	if c.client == nil {
		return true
	}
	_, _, err := c.client.SendRequest("keepalive@next-prism", true, nil)
	return err != nil
}

// Pool manages PooledConnections across every (host, port) endpoint it has
// been asked to serve.
type Pool struct {
	signer         ssh.Signer
	user           string
	dialTimeout    time.Duration
	maxConnections int
	idleTimeout    time.Duration
	maxRetries     int

	mu      sync.Mutex
	buckets map[endpoint][]*Conn

	log *logrus.Entry
}

// New constructs a Pool that authenticates with signer (spec.md §4.H: "a
// single preloaded private key, reference ED25519").
func New(user string, signer ssh.Signer, maxConnections int, idleTimeout time.Duration, maxRetries int, dialTimeout time.Duration) *Pool {
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Pool{
		signer:         signer,
		user:           user,
		dialTimeout:    dialTimeout,
		maxConnections: maxConnections,
		idleTimeout:    idleTimeout,
		maxRetries:     maxRetries,
		buckets:        make(map[endpoint][]*Conn),
		log:            corelog.For("sshpool"),
	}
}

// Acquire returns an idle, live connection for (host, port), dialing a new
// one if under maxConnections, or waiting up to maxRetries one-second
// iterations for a release before failing with KindPoolExhausted
// (spec.md §4.H).
func (p *Pool) Acquire(ctx context.Context, host string, port int) (*Conn, error) {
	ep := endpoint{host: host, port: port}

	p.reapBucket(ep)

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		p.mu.Lock()
		for _, c := range p.buckets[ep] {
			if !c.inUse && !c.dead() {
				c.inUse = true
				p.mu.Unlock()
				return c, nil
			}
		}
		if len(p.buckets[ep]) < p.maxConnections {
			p.mu.Unlock()
			conn, err := p.dial(ctx, ep)
			if err != nil {
				return nil, err
			}
			p.mu.Lock()
			conn.inUse = true
			p.buckets[ep] = append(p.buckets[ep], conn)
			p.mu.Unlock()
			return conn, nil
		}
		p.mu.Unlock()

		if attempt == p.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	return nil, corerr.New(corerr.KindPoolExhausted, "ssh pool exhausted for %s:%d", host, port)
}

func (p *Pool) dial(ctx context.Context, ep endpoint) (*Conn, error) {
	cfg := &ssh.ClientConfig{
		User:            p.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(p.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // endpoints are discovered inside a trusted cluster network
		Timeout:         p.dialTimeout,
	}

	addr := net.JoinHostPort(ep.host, fmt.Sprintf("%d", ep.port))
	dialer := net.Dialer{Timeout: p.dialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindTransportFailure, err, "dialing ssh endpoint")
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		_ = netConn.Close()
		return nil, corerr.Wrap(corerr.KindTransportFailure, err, "negotiating ssh connection")
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	conn := &Conn{id: uuid.NewString(), client: client, endpoint: ep, lastUsed: time.Now()}
	p.log.WithField("connID", conn.id).WithField("endpoint", addr).Debug("dialed ssh connection")
	return conn, nil
}

// Release marks conn idle and records its last-used time; a connection whose
// errorCount has reached the threshold is force-closed and dropped instead
// (spec.md §4.H).
func (p *Pool) Release(conn *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn.lastUsed = time.Now()
	conn.inUse = false

	if conn.errorCount >= maxConnectionErrors {
		p.dropLocked(conn)
	}
}

// MarkError increments conn's error count; callers invoke this after a
// failed Exec so the next Release can evict a misbehaving connection.
func (p *Pool) MarkError(conn *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn.errorCount++
}

func (p *Pool) dropLocked(conn *Conn) {
	conns := p.buckets[conn.endpoint]
	for i, c := range conns {
		if c == conn {
			p.buckets[conn.endpoint] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if conn.client != nil {
		_ = conn.client.Close()
	}
	p.log.WithField("connID", conn.id).WithField("errorCount", conn.errorCount).Warn("evicting ssh connection after repeated errors")
}

// reapBucket closes and drops every connection in ep's bucket that is idle
// past idleTimeout or whose transport is dead, mirroring spec.md §4.H's
// "invoked opportunistically on acquire". It takes the lock itself.
func (p *Pool) reapBucket(ep endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := p.buckets[ep]
	kept := conns[:0]
	for _, c := range conns {
		if !c.inUse && (time.Since(c.lastUsed) > p.idleTimeout || c.dead()) {
			if c.client != nil {
				_ = c.client.Close()
			}
			continue
		}
		kept = append(kept, c)
	}
	p.buckets[ep] = kept
}

// Shutdown closes every connection in every bucket, for process exit
// (spec.md §4.H: "on global shutdown").
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ep, conns := range p.buckets {
		for _, c := range conns {
			if c.client != nil {
				_ = c.client.Close()
			}
		}
		delete(p.buckets, ep)
	}
}

// Exec runs commandLine as a single shell string over conn, draining both
// streams fully before returning ok = (exitCode == 0) (spec.md §4.H). The
// command is bound by ctx's deadline; callers apply their own per-attempt
// timeout by deriving ctx with context.WithTimeout before calling Exec.
func Exec(ctx context.Context, conn *Conn, commandLine string) (ok bool, stdout, stderr string, err error) {
	session, err := conn.client.NewSession()
	if err != nil {
		return false, "", "", corerr.Wrap(corerr.KindTransportFailure, err, "opening ssh session")
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	done := make(chan error, 1)
	go func() { done <- session.Run(commandLine) }()

	select {
	case runErr := <-done:
		if runErr == nil {
			return true, outBuf.String(), errBuf.String(), nil
		}
		if exitErr, isExit := runErr.(*ssh.ExitError); isExit {
			return exitErr.ExitStatus() == 0, outBuf.String(), errBuf.String(), nil
		}
		return false, outBuf.String(), errBuf.String(), corerr.Wrap(corerr.KindTransportFailure, runErr, "ssh command failed")
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return false, outBuf.String(), errBuf.String(), corerr.New(corerr.KindTransportFailure, "ssh command timed out")
	}
}
