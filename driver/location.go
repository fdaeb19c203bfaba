package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mealflow/config"
	"mealflow/internal/metrics"
	"mealflow/logger"
)

// Position is one geolocation fix.
type Position struct {
	Latitude  float64
	Longitude float64
}

// LocationSource supplies position fixes. Watch starts streaming fixes until
// Close is called; Close must release the underlying watch handle.
type LocationSource interface {
	Watch() (<-chan Position, error)
	Close() error
}

// Emitter is the slice of the realtime client the pinger needs.
type Emitter interface {
	SendDriverLocation(orderID string, latitude, longitude float64)
	IsConnected() bool
}

// Pinger periodically emits the driver's position for the active delivery.
// Pings lost while disconnected are not buffered; the next tick carries the
// current position anyway. Stop tears down both the interval timer and the
// location watch so nothing emits afterwards.
type Pinger struct {
	cfg     config.DriverConfig
	emitter Emitter
	source  LocationSource
	limiter *rate.Limiter
	log     *logger.Log

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	orderID string
	pos     Position
	hasPos  bool
}

// NewPinger creates a location pinger for the given source and emitter.
func NewPinger(cfg config.DriverConfig, source LocationSource, emitter Emitter) *Pinger {
	perSecond := cfg.LocationsPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.LocationBurst
	if burst <= 0 {
		burst = 1
	}

	return &Pinger{
		cfg:     cfg,
		emitter: emitter,
		source:  source,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		log:     logger.GetLogger(),
	}
}

// SetActiveOrder sets the delivery the pings are attributed to. An empty
// order id pauses emission.
func (p *Pinger) SetActiveOrder(orderID string) {
	p.mu.Lock()
	p.orderID = orderID
	p.mu.Unlock()
}

// Start begins watching the location source and emitting pings on the
// configured interval.
func (p *Pinger) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("location pinger already running")
	}
	p.running = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	log := p.log.WithComponent("driver_pinger")

	fixes, err := p.source.Watch()
	if err != nil {
		p.mu.Lock()
		p.running = false
		p.cancel = nil
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("failed to start location watch: %w", err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case fix, ok := <-fixes:
				if !ok {
					return
				}
				p.mu.Lock()
				p.pos = fix
				p.hasPos = true
				p.mu.Unlock()
			}
		}
	}()

	interval := p.cfg.LocationInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.emitOnce(log)
			}
		}
	}()

	log.WithFields(logger.Fields{"interval": interval.String()}).Info("location pinger started")
	return nil
}

func (p *Pinger) emitOnce(log *logger.Entry) {
	p.mu.Lock()
	orderID := p.orderID
	pos := p.pos
	hasPos := p.hasPos
	p.mu.Unlock()

	if orderID == "" || !hasPos {
		return
	}
	if !p.limiter.Allow() {
		metrics.IncrementPingDropped()
		log.Debug("location ping rate limited")
		return
	}

	p.emitter.SendDriverLocation(orderID, pos.Latitude, pos.Longitude)
	metrics.IncrementPingSent()
}

// Stop cancels the emission loop and closes the location watch. It blocks
// until both goroutines have exited, so no ping can fire after Stop returns.
func (p *Pinger) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := p.source.Close(); err != nil {
		p.log.WithComponent("driver_pinger").WithError(err).Warn("failed to close location source")
	}
	p.wg.Wait()
	p.log.WithComponent("driver_pinger").Info("location pinger stopped")
}
