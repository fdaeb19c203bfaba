package metrics

import (
	"sync/atomic"
)

// Counters for the client core. All are cumulative since process start and
// safe for concurrent use.
var (
	connects       int64
	reconnects     int64
	disconnects    int64
	eventsReceived int64
	emitsDropped   int64
	httpRequests   int64
	httpRetries    int64
	tokenRefreshes int64
	pingsSent      int64
	pingsDropped   int64
)

func IncrementConnect()       { atomic.AddInt64(&connects, 1) }
func IncrementReconnect()     { atomic.AddInt64(&reconnects, 1) }
func IncrementDisconnect()    { atomic.AddInt64(&disconnects, 1) }
func IncrementEventReceived() { atomic.AddInt64(&eventsReceived, 1) }
func IncrementEmitDropped()   { atomic.AddInt64(&emitsDropped, 1) }
func IncrementHTTPRequest()   { atomic.AddInt64(&httpRequests, 1) }
func IncrementHTTPRetry()     { atomic.AddInt64(&httpRetries, 1) }
func IncrementTokenRefresh()  { atomic.AddInt64(&tokenRefreshes, 1) }
func IncrementPingSent()      { atomic.AddInt64(&pingsSent, 1) }
func IncrementPingDropped()   { atomic.AddInt64(&pingsDropped, 1) }

// Snapshot returns the current counter values keyed by metric name.
func Snapshot() map[string]int64 {
	return map[string]int64{
		"connects":        atomic.LoadInt64(&connects),
		"reconnects":      atomic.LoadInt64(&reconnects),
		"disconnects":     atomic.LoadInt64(&disconnects),
		"events_received": atomic.LoadInt64(&eventsReceived),
		"emits_dropped":   atomic.LoadInt64(&emitsDropped),
		"http_requests":   atomic.LoadInt64(&httpRequests),
		"http_retries":    atomic.LoadInt64(&httpRetries),
		"token_refreshes": atomic.LoadInt64(&tokenRefreshes),
		"pings_sent":      atomic.LoadInt64(&pingsSent),
		"pings_dropped":   atomic.LoadInt64(&pingsDropped),
	}
}
