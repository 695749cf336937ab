// Package proxy implements spec.md component G: discovery and health
// tracking of per-service proxy endpoints inside the target cluster. The
// label-based service lookup is grounded on mutagen's pkg/selection/labels.go,
// which wraps k8s.io/apimachinery/pkg/labels.Selector the same way here —
// this package never imports the broader apimachinery object model, only the
// labels subpackage, since that is all selection needs.
package proxy

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	k8slabels "k8s.io/apimachinery/pkg/labels"

	"github.com/LoopeyTheGreat/next-prism/internal/corelog"
	"github.com/LoopeyTheGreat/next-prism/internal/corerr"
)

// DefaultCacheTTL and DefaultMaxErrors are the reference values from spec.md
// §4.G.
const (
	DefaultCacheTTL  = 60 * time.Second
	DefaultMaxErrors = 3
)

// Endpoint is a resolved, health-checked proxy location for a service kind.
type Endpoint struct {
	Kind      string
	Host      string
	Port      int
	LastCheck time.Time
	Healthy   bool
	ErrorCount int

	// DecayingErrorScore tracks transport trouble independently of the hard
	// ErrorCount eviction threshold (original_source's proxy_discovery.py
	// decaying error score). It is halved on every MarkSuccess and
	// incremented on every MarkError, and is consulted only to pick a log
	// severity (info/warn/error) — it never feeds the errorCount >= maxErrors
	// eviction rule, which remains exactly as spec.md §4.G specifies.
	DecayingErrorScore float64
}

// ServiceLister abstracts the cluster API the discoverer queries for
// candidate services, so tests can substitute a fake without a real cluster
// client. Real implementations adapt whatever service registry the deployment
// target exposes (a Kubernetes clientset, a Docker Swarm API, a static
// inventory file) behind this one method.
type ServiceLister interface {
	// ListServices returns every known service's name, its label set, and
	// its resolved host/port.
	ListServices(ctx context.Context) ([]ServiceRecord, error)
}

// ServiceRecord is one candidate service as reported by a ServiceLister.
type ServiceRecord struct {
	Name   string
	Labels map[string]string
	Host   string
	Port   int
}

// Prober TCP-probes a resolved endpoint; production code dials net.Dial,
// tests substitute a fake.
type Prober func(ctx context.Context, host string, port int, timeout time.Duration) bool

// Discovery maintains the serviceKind -> Endpoint cache described in
// spec.md §4.G.
type Discovery struct {
	lister       ServiceLister
	probe        Prober
	cacheTTL     time.Duration
	maxErrors    int
	healthTimeout time.Duration

	mu      sync.Mutex
	entries map[string]*Endpoint

	log *logrus.Entry
}

// New constructs a Discovery backed by lister, probing endpoints with probe
// (DialProbe if nil).
func New(lister ServiceLister, probe Prober, cacheTTL time.Duration, maxErrors int, healthTimeout time.Duration) *Discovery {
	if probe == nil {
		probe = DialProbe
	}
	return &Discovery{
		lister:        lister,
		probe:         probe,
		cacheTTL:      cacheTTL,
		maxErrors:     maxErrors,
		healthTimeout: healthTimeout,
		entries:       make(map[string]*Endpoint),
		log:           corelog.For("proxy"),
	}
}

// DialProbe is the default Prober: it attempts a TCP connect within timeout.
func DialProbe(ctx context.Context, host string, port int, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Discover queries the cluster for services labelled service=<kind>-proxy,
// picks the first by service name ascending when multiple match, probes it,
// and caches it only when the probe succeeds; a failed probe removes any
// cached entry for kind (spec.md §4.G).
func (d *Discovery) Discover(ctx context.Context, kind string, forceRefresh bool) (*Endpoint, error) {
	if !forceRefresh {
		if ep, ok := d.GetCached(kind); ok {
			return ep, nil
		}
	}

	selector, err := k8slabels.Parse("service=" + kind + "-proxy")
	if err != nil {
		return nil, corerr.Wrap(corerr.KindDiscoveryFailure, err, "parsing label selector")
	}

	records, err := d.lister.ListServices(ctx)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindDiscoveryFailure, err, "listing services")
	}

	var matches []ServiceRecord
	for _, rec := range records {
		if selector.Matches(k8slabels.Set(rec.Labels)) {
			matches = append(matches, rec)
		}
	}
	if len(matches) == 0 {
		return nil, corerr.New(corerr.KindDiscoveryFailure, "no service matches service=%s-proxy", kind)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
	chosen := matches[0]

	healthy := d.probe(ctx, chosen.Host, chosen.Port, d.healthTimeout)

	ep := &Endpoint{
		Kind:      kind,
		Host:      chosen.Host,
		Port:      chosen.Port,
		LastCheck: time.Now(),
		Healthy:   healthy,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !healthy {
		delete(d.entries, kind)
		return nil, corerr.New(corerr.KindDiscoveryFailure, "proxy for %s failed health probe", kind)
	}
	d.entries[kind] = ep
	return ep, nil
}

// GetCached returns the cached entry iff it is within cacheTTL and under
// maxErrors, evicting it otherwise (spec.md §4.G).
func (d *Discovery) GetCached(kind string) (*Endpoint, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ep, ok := d.entries[kind]
	if !ok {
		return nil, false
	}
	if time.Since(ep.LastCheck) > d.cacheTTL || ep.ErrorCount >= d.maxErrors {
		delete(d.entries, kind)
		return nil, false
	}
	return ep, true
}

// MarkSuccess resets errorCount and refreshes lastCheck for kind, and halves
// the endpoint's decaying error score.
func (d *Discovery) MarkSuccess(kind string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ep, ok := d.entries[kind]; ok {
		ep.ErrorCount = 0
		ep.LastCheck = time.Now()
		ep.DecayingErrorScore /= 2
	}
}

// MarkError increments errorCount for kind; the next GetCached after
// reaching maxErrors evicts it. It also bumps the decaying error score and
// logs at a severity that escalates with that score.
func (d *Discovery) MarkError(kind string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ep, ok := d.entries[kind]
	if !ok {
		return
	}
	ep.ErrorCount++
	ep.DecayingErrorScore++

	entry := d.log.WithField("kind", kind).WithField("errorScore", ep.DecayingErrorScore)
	switch {
	case ep.DecayingErrorScore < 1:
		entry.Info("proxy endpoint reported an error")
	case ep.DecayingErrorScore < float64(d.maxErrors):
		entry.Warn("proxy endpoint reporting repeated errors")
	default:
		entry.Error("proxy endpoint persistently failing")
	}
}

// Invalidate removes the entry for kind, or every entry when kind is empty.
func (d *Discovery) Invalidate(kind string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if kind == "" {
		d.entries = make(map[string]*Endpoint)
		return
	}
	delete(d.entries, kind)
}
