package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealflow/cart"
	"mealflow/config"
	"mealflow/internal/state"
	"mealflow/logger"
	"mealflow/models"
)

func newTestRouter(t *testing.T) (*httptest.Server, *state.ConnectionStore, *cart.Store) {
	t.Helper()

	conn := state.NewConnectionStore()
	cartStore := cart.NewStore(nil)

	s, err := NewServer(config.DashboardConfig{Enabled: true, Address: "127.0.0.1:0"}, logger.Logger(), conn, cartStore)
	require.NoError(t, err)
	require.NotNil(t, s)

	router, err := s.buildRouter("mealflow")
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, conn, cartStore
}

func getJSON(t *testing.T, url string, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestNewServerDisabled(t *testing.T) {
	s, err := NewServer(config.DashboardConfig{}, logger.Logger(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Empty(t, s.Address())
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestRouter(t)

	var body map[string]string
	getJSON(t, srv.URL+"/healthz", &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "mealflow", body["app"])
}

func TestStatusEndpoint(t *testing.T) {
	srv, conn, _ := newTestRouter(t)

	conn.SetConnected(true)
	conn.Subscribe("order:a1")

	var body struct {
		Status        string   `json:"status"`
		Connected     bool     `json:"connected"`
		Subscriptions []string `json:"subscriptions"`
	}
	getJSON(t, srv.URL+"/api/status", &body)
	assert.Equal(t, string(state.StatusConnected), body.Status)
	assert.True(t, body.Connected)
	assert.Equal(t, []string{"order:a1"}, body.Subscriptions)
}

func TestEventsEndpoint(t *testing.T) {
	srv, conn, _ := newTestRouter(t)

	conn.AddEvent("order:confirmed", map[string]string{"orderId": "a1"})

	var body struct {
		Events []struct {
			Type      string `json:"type"`
			Timestamp int64  `json:"timestamp"`
		} `json:"events"`
	}
	getJSON(t, srv.URL+"/api/events", &body)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "order:confirmed", body.Events[0].Type)
	assert.NotZero(t, body.Events[0].Timestamp)
}

func TestCartEndpoint(t *testing.T) {
	srv, _, cartStore := newTestRouter(t)

	cartStore.AddToCart(models.CartItem{
		MenuItemID:   "m1",
		Name:         "Pad Thai",
		Price:        11.5,
		Quantity:     2,
		RestaurantID: "r1",
	})

	var body struct {
		RestaurantID string  `json:"restaurant_id"`
		ItemCount    int     `json:"item_count"`
		Subtotal     float64 `json:"subtotal"`
	}
	getJSON(t, srv.URL+"/api/cart", &body)
	assert.Equal(t, "r1", body.RestaurantID)
	assert.Equal(t, 2, body.ItemCount)
	assert.InDelta(t, 23.0, body.Subtotal, 1e-9)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestRouter(t)

	var body struct {
		Counters map[string]int64 `json:"counters"`
	}
	getJSON(t, srv.URL+"/api/metrics", &body)
	assert.NotNil(t, body.Counters)
}

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "127.0.0.1:8080"},
		{":9090", "127.0.0.1:9090"},
		{"0.0.0.0:9090", "0.0.0.0:9090"},
		{"localhost", "localhost:8080"},
		{"http://localhost:9090", "localhost:9090"},
		{"*:9090", "127.0.0.1:9090"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeAddress(tc.in), "input %q", tc.in)
	}
}

func TestLogStoreBounds(t *testing.T) {
	ls := newLogStore(3)
	log := logger.Logger()
	log.AddHook(ls)

	for i := 0; i < 5; i++ {
		log.WithComponent("test").Info("entry")
	}

	records := ls.snapshot()
	assert.Len(t, records, 3)
	assert.Equal(t, "test", records[0].Component)

	ls.close()
	log.Info("after close")
	assert.Len(t, ls.snapshot(), 3)
}
