package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/layer-3/dair/adapters/signature"
	"github.com/layer-3/dair/adapters/store"
	"github.com/layer-3/dair/coordinator"
	"github.com/layer-3/dair/core"
	"github.com/layer-3/dair/internal/testutil"
	"github.com/layer-3/dair/ports"
)

type nopEvents struct{}

func (nopEvents) PublishLogout(context.Context, core.Identity, string) error { return nil }
func (nopEvents) PublishTransition(context.Context, core.Transition) error  { return nil }

type fixture struct {
	coord  *coordinator.Coordinator
	places ports.PlaceStore
	url    string
	cancel context.CancelFunc
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	places := store.NewMemoryPlaces()
	coord, err := coordinator.New(coordinator.DefaultConfig(), signature.NewEd25519(), places, store.NewMemoryChallenges(), nopEvents{}, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(NewHandler(ctx, cfg, coord, logger))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &fixture{
		coord:  coord,
		places: places,
		url:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		cancel: cancel,
	}
}

func defaultConfig() Config {
	return Config{SendQueue: 16, MessageRate: 100, MessageBurst: 100, MaxMessageSize: 64 << 10}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, typ string, data any) {
	t.Helper()
	env, err := coordinator.NewEnvelope(typ, data)
	require.NoError(t, err)
	require.NoError(t, c.WriteJSON(env))
}

func read(t *testing.T, c *websocket.Conn) coordinator.Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env coordinator.Envelope
	require.NoError(t, c.ReadJSON(&env))
	return env
}

func signup(t *testing.T, c *websocket.Conn, w *testutil.Wallet) {
	t.Helper()
	cb := uuid.NewString()
	send(t, c, coordinator.TypeSignup, coordinator.SignupRequest{
		PublicKey:     w.Address(),
		SignedMessage: w.Sign(signature.SignupMessage(cb, w.Address())),
		CallbackID:    cb,
	})
	ack := read(t, c)
	require.Equal(t, coordinator.TypeSignup, ack.Type)
}

func seed(t *testing.T, f *fixture, id string) {
	t.Helper()
	require.NoError(t, f.places.Create(context.Background(), core.PlaceRecord{
		ID:          id,
		Name:        "Mitte",
		Coordinates: &core.Coordinates{Lat: 52.52, Lng: 13.40},
		Status:      core.StatusAwaitingValidator,
		UpdatedAt:   time.Now(),
	}))
}

func TestHandler_ValidationRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	seed(t, f, "P1")

	w := testutil.NewWallet(t)
	c := dial(t, f.url)
	signup(t, c, w)

	env := read(t, c)
	require.Equal(t, coordinator.TypeValidate, env.Type)
	var d coordinator.ValidateDispatch
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, "P1", d.PlaceID)

	// the wallet payload carries plain JSON numbers
	reply := map[string]any{
		"placeId":       d.PlaceID,
		"callbackId":    d.CallbackID,
		"validatorId":   w.Address(),
		"signedMessage": coordinator.SignedBytes(w.Sign(signature.ReplyMessage(d.CallbackID))),
		"aqi":           1, "pm25": 0.5, "pm10": 1.25, "co": 200.3, "no": 0,
		"so2": 0.1, "nh3": 0.2, "no2": 0.3, "o3": 40,
	}
	require.NoError(t, c.WriteJSON(map[string]any{"type": coordinator.TypeValidate, "data": reply}))

	require.Eventually(t, func() bool {
		rec, err := f.places.Get(context.Background(), "P1")
		return err == nil && rec.Status == core.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	rec, err := f.places.Get(context.Background(), "P1")
	require.NoError(t, err)
	assert.True(t, rec.AirQuality.CO.Decimal.Equal(decimal.RequireFromString("200.3")))
	assert.Equal(t, core.LevelGood, rec.AirQuality.Level())
}

func TestHandler_CloseRevertsOutstandingJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	seed(t, f, "P1")

	c := dial(t, f.url)
	signup(t, c, testutil.NewWallet(t))
	require.Equal(t, coordinator.TypeValidate, read(t, c).Type)

	rec, err := f.places.Get(context.Background(), "P1")
	require.NoError(t, err)
	require.Equal(t, core.StatusProcessing, rec.Status)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool {
		rec, err := f.places.Get(context.Background(), "P1")
		return err == nil && rec.Status == core.StatusAwaitingValidator
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.coord.Correlator().Len())
	assert.Eventually(t, func() bool { return f.coord.Registry().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHandler_MalformedFrameDropsConnection(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	c := dial(t, f.url)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{nope")))
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := c.ReadMessage()
	require.Error(t, err)
	assert.Eventually(t, func() bool { return f.coord.Registry().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHandler_FloodDropsConnection(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.MessageRate = 1
	cfg.MessageBurst = 2
	f := newFixture(t, cfg)
	c := dial(t, f.url)

	for range 5 {
		if err := c.WriteJSON(map[string]any{"type": "noop"}); err != nil {
			break
		}
	}
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := c.ReadMessage()
	require.Error(t, err)
}

func TestHandler_ShutdownClosesSessions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	seed(t, f, "P1")

	c := dial(t, f.url)
	signup(t, c, testutil.NewWallet(t))
	require.Equal(t, coordinator.TypeValidate, read(t, c).Type)
	require.Equal(t, 1, f.coord.Registry().Len())

	f.cancel()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := c.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		require.False(t, netErr.Timeout(), "session was left open")
	}

	assert.Eventually(t, func() bool { return f.coord.Registry().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		rec, err := f.places.Get(context.Background(), "P1")
		return err == nil && rec.Status == core.StatusAwaitingValidator
	}, 5*time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
