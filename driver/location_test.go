package driver

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealflow/config"
)

type fakeSource struct {
	fixes  chan Position
	closed bool
	mu     sync.Mutex
}

func newFakeSource() *fakeSource {
	return &fakeSource{fixes: make(chan Position, 8)}
}

func (s *fakeSource) Watch() (<-chan Position, error) {
	return s.fixes, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.fixes)
	}
	return nil
}

type recordingEmitter struct {
	mu    sync.Mutex
	pings []struct {
		orderID  string
		lat, lng float64
	}
}

func (e *recordingEmitter) SendDriverLocation(orderID string, lat, lng float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pings = append(e.pings, struct {
		orderID  string
		lat, lng float64
	}{orderID, lat, lng})
}

func (e *recordingEmitter) IsConnected() bool { return true }

func (e *recordingEmitter) pingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pings)
}

func testDriverConfig() config.DriverConfig {
	return config.DriverConfig{
		Enabled:            true,
		LocationInterval:   10 * time.Millisecond,
		LocationsPerSecond: 1000,
		LocationBurst:      1000,
	}
}

func TestPingerEmitsForActiveOrder(t *testing.T) {
	source := newFakeSource()
	emitter := &recordingEmitter{}
	p := NewPinger(testDriverConfig(), source, emitter)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	p.SetActiveOrder("order-1")
	source.fixes <- Position{Latitude: 52.37, Longitude: 4.89}

	require.Eventually(t, func() bool { return emitter.pingCount() > 0 }, 2*time.Second, 5*time.Millisecond)

	emitter.mu.Lock()
	ping := emitter.pings[0]
	emitter.mu.Unlock()
	assert.Equal(t, "order-1", ping.orderID)
	assert.Equal(t, 52.37, ping.lat)
	assert.Equal(t, 4.89, ping.lng)
}

func TestPingerSilentWithoutOrder(t *testing.T) {
	source := newFakeSource()
	emitter := &recordingEmitter{}
	p := NewPinger(testDriverConfig(), source, emitter)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	source.fixes <- Position{Latitude: 52.37, Longitude: 4.89}
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, emitter.pingCount())
}

func TestPingerSilentWithoutFix(t *testing.T) {
	source := newFakeSource()
	emitter := &recordingEmitter{}
	p := NewPinger(testDriverConfig(), source, emitter)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	p.SetActiveOrder("order-1")
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, emitter.pingCount())
}

func TestPingerClearingOrderPausesEmission(t *testing.T) {
	source := newFakeSource()
	emitter := &recordingEmitter{}
	p := NewPinger(testDriverConfig(), source, emitter)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	p.SetActiveOrder("order-1")
	source.fixes <- Position{Latitude: 1, Longitude: 2}
	require.Eventually(t, func() bool { return emitter.pingCount() > 0 }, 2*time.Second, 5*time.Millisecond)

	p.SetActiveOrder("")
	time.Sleep(30 * time.Millisecond)
	count := emitter.pingCount()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, count, emitter.pingCount())
}

func TestPingerRateLimitDropsExcess(t *testing.T) {
	cfg := testDriverConfig()
	cfg.LocationsPerSecond = 1
	cfg.LocationBurst = 1
	cfg.LocationInterval = 5 * time.Millisecond

	source := newFakeSource()
	emitter := &recordingEmitter{}
	p := NewPinger(cfg, source, emitter)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	p.SetActiveOrder("order-1")
	source.fixes <- Position{Latitude: 1, Longitude: 2}

	// Many ticks fire within the window but the limiter admits one.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, emitter.pingCount())
}

func TestPingerStopHaltsEmission(t *testing.T) {
	source := newFakeSource()
	emitter := &recordingEmitter{}
	p := NewPinger(testDriverConfig(), source, emitter)

	require.NoError(t, p.Start(context.Background()))
	p.SetActiveOrder("order-1")
	source.fixes <- Position{Latitude: 1, Longitude: 2}
	require.Eventually(t, func() bool { return emitter.pingCount() > 0 }, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	count := emitter.pingCount()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, count, emitter.pingCount())

	// Stop is idempotent.
	p.Stop()
}

func TestPingerStartTwiceFails(t *testing.T) {
	source := newFakeSource()
	p := NewPinger(testDriverConfig(), source, &recordingEmitter{})

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.Error(t, p.Start(context.Background()))
}

func TestFileSourceReadsFix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "position")
	require.NoError(t, os.WriteFile(path, []byte("52.37, 4.89\n"), 0644))

	s := NewFileSource(path, 5*time.Millisecond)
	fixes, err := s.Watch()
	require.NoError(t, err)
	defer s.Close()

	select {
	case fix := <-fixes:
		assert.Equal(t, 52.37, fix.Latitude)
		assert.Equal(t, 4.89, fix.Longitude)
	case <-time.After(2 * time.Second):
		t.Fatal("no fix delivered")
	}
}

func TestFileSourceMalformedFix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "position")
	require.NoError(t, os.WriteFile(path, []byte("not a fix"), 0644))

	s := NewFileSource(path, 5*time.Millisecond)
	fixes, err := s.Watch()
	require.NoError(t, err)
	defer s.Close()

	select {
	case fix := <-fixes:
		t.Fatalf("unexpected fix delivered: %+v", fix)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFileSourceWatchTwiceFails(t *testing.T) {
	s := NewFileSource(filepath.Join(t.TempDir(), "position"), time.Millisecond)
	_, err := s.Watch()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Watch()
	require.Error(t, err)
}
