package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	records []ServiceRecord
	err     error
}

func (f *fakeLister) ListServices(ctx context.Context) ([]ServiceRecord, error) {
	return f.records, f.err
}

func alwaysHealthy(ctx context.Context, host string, port int, timeout time.Duration) bool {
	return true
}

func alwaysUnhealthy(ctx context.Context, host string, port int, timeout time.Duration) bool {
	return false
}

func TestDiscover_PicksFirstByNameAscending(t *testing.T) {
	lister := &fakeLister{records: []ServiceRecord{
		{Name: "nextcloud-proxy-b", Labels: map[string]string{"service": "nextcloud-proxy"}, Host: "10.0.0.2", Port: 22},
		{Name: "nextcloud-proxy-a", Labels: map[string]string{"service": "nextcloud-proxy"}, Host: "10.0.0.1", Port: 22},
	}}
	d := New(lister, alwaysHealthy, DefaultCacheTTL, DefaultMaxErrors, time.Second)

	ep, err := d.Discover(context.Background(), "nextcloud", false)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ep.Host)
}

func TestDiscover_NoMatchIsDiscoveryFailure(t *testing.T) {
	lister := &fakeLister{records: nil}
	d := New(lister, alwaysHealthy, DefaultCacheTTL, DefaultMaxErrors, time.Second)

	_, err := d.Discover(context.Background(), "photoprism", false)
	assert.Error(t, err)
}

func TestDiscover_UnhealthyProbeFailsAndDoesNotServeCached(t *testing.T) {
	lister := &fakeLister{records: []ServiceRecord{
		{Name: "photoprism-proxy", Labels: map[string]string{"service": "photoprism-proxy"}, Host: "10.0.0.5", Port: 80},
	}}
	d := New(lister, alwaysUnhealthy, DefaultCacheTTL, DefaultMaxErrors, time.Second)

	_, err := d.Discover(context.Background(), "photoprism", false)
	assert.Error(t, err)

	_, ok := d.GetCached("photoprism")
	assert.False(t, ok)
}

func TestGetCached_ExpiresAfterTTL(t *testing.T) {
	lister := &fakeLister{records: []ServiceRecord{
		{Name: "nextcloud-proxy", Labels: map[string]string{"service": "nextcloud-proxy"}, Host: "10.0.0.1", Port: 22},
	}}
	d := New(lister, alwaysHealthy, 50*time.Millisecond, DefaultMaxErrors, time.Second)

	_, err := d.Discover(context.Background(), "nextcloud", false)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	_, ok := d.GetCached("nextcloud")
	assert.False(t, ok)
}

func TestMarkError_EvictsAfterMaxErrors(t *testing.T) {
	lister := &fakeLister{records: []ServiceRecord{
		{Name: "nextcloud-proxy", Labels: map[string]string{"service": "nextcloud-proxy"}, Host: "10.0.0.1", Port: 22},
	}}
	d := New(lister, alwaysHealthy, DefaultCacheTTL, 2, time.Second)

	_, err := d.Discover(context.Background(), "nextcloud", false)
	require.NoError(t, err)

	d.MarkError("nextcloud")
	d.MarkError("nextcloud")

	_, ok := d.GetCached("nextcloud")
	assert.False(t, ok)
}

func TestMarkSuccess_ResetsErrorCount(t *testing.T) {
	lister := &fakeLister{records: []ServiceRecord{
		{Name: "nextcloud-proxy", Labels: map[string]string{"service": "nextcloud-proxy"}, Host: "10.0.0.1", Port: 22},
	}}
	d := New(lister, alwaysHealthy, DefaultCacheTTL, 2, time.Second)

	_, err := d.Discover(context.Background(), "nextcloud", false)
	require.NoError(t, err)

	d.MarkError("nextcloud")
	d.MarkSuccess("nextcloud")
	d.MarkError("nextcloud")

	_, ok := d.GetCached("nextcloud")
	assert.True(t, ok)
}

func TestMarkError_IncrementsDecayingScoreAndMarkSuccessHalvesIt(t *testing.T) {
	lister := &fakeLister{records: []ServiceRecord{
		{Name: "nextcloud-proxy", Labels: map[string]string{"service": "nextcloud-proxy"}, Host: "10.0.0.1", Port: 22},
	}}
	d := New(lister, alwaysHealthy, DefaultCacheTTL, 10, time.Second)

	_, err := d.Discover(context.Background(), "nextcloud", false)
	require.NoError(t, err)

	d.MarkError("nextcloud")
	d.MarkError("nextcloud")
	ep, ok := d.GetCached("nextcloud")
	require.True(t, ok)
	assert.Equal(t, float64(2), ep.DecayingErrorScore)

	d.MarkSuccess("nextcloud")
	ep, ok = d.GetCached("nextcloud")
	require.True(t, ok)
	assert.Equal(t, float64(1), ep.DecayingErrorScore)
}

func TestInvalidate_SingleAndAll(t *testing.T) {
	lister := &fakeLister{records: []ServiceRecord{
		{Name: "nextcloud-proxy", Labels: map[string]string{"service": "nextcloud-proxy"}, Host: "10.0.0.1", Port: 22},
		{Name: "photoprism-proxy", Labels: map[string]string{"service": "photoprism-proxy"}, Host: "10.0.0.2", Port: 80},
	}}
	d := New(lister, alwaysHealthy, DefaultCacheTTL, DefaultMaxErrors, time.Second)

	_, err := d.Discover(context.Background(), "nextcloud", false)
	require.NoError(t, err)
	_, err = d.Discover(context.Background(), "photoprism", false)
	require.NoError(t, err)

	d.Invalidate("nextcloud")
	_, ok := d.GetCached("nextcloud")
	assert.False(t, ok)
	_, ok = d.GetCached("photoprism")
	assert.True(t, ok)

	d.Invalidate("")
	_, ok = d.GetCached("photoprism")
	assert.False(t, ok)
}
