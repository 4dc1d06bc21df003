package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/layer-3/dair/adapters/signature"
	"github.com/layer-3/dair/adapters/store"
	"github.com/layer-3/dair/core"
	"github.com/layer-3/dair/internal/testutil"
	"github.com/layer-3/dair/ports"
)

var errConnClosed = errors.New("conn closed")

type fakeConn struct {
	mu     sync.Mutex
	sent   []Envelope
	closed bool
	failOn func(Envelope) error
}

func (c *fakeConn) Send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	if c.failOn != nil {
		if err := c.failOn(env); err != nil {
			return err
		}
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) setFailOn(fn func(Envelope) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failOn = fn
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) envelopes() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Envelope(nil), c.sent...)
}

// dispatches decodes every validate envelope sent on the conn.
func (c *fakeConn) dispatches(t *testing.T) []ValidateDispatch {
	t.Helper()
	var out []ValidateDispatch
	for _, env := range c.envelopes() {
		if env.Type != TypeValidate {
			continue
		}
		var d ValidateDispatch
		require.NoError(t, json.Unmarshal(env.Data, &d))
		out = append(out, d)
	}
	return out
}

type recordingEvents struct {
	mu          sync.Mutex
	transitions []core.Transition
}

func (e *recordingEvents) PublishLogout(context.Context, core.Identity, string) error {
	return nil
}

func (e *recordingEvents) PublishTransition(_ context.Context, t core.Transition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transitions = append(e.transitions, t)
	return nil
}

func (e *recordingEvents) all() []core.Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.Transition(nil), e.transitions...)
}

type harness struct {
	coord      *Coordinator
	places     ports.PlaceStore
	challenges ports.ChallengeStore
	events     *recordingEvents
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, DefaultConfig(), store.NewMemoryPlaces(), store.NewMemoryChallenges())
}

// newHarnessWith builds a coordinator over existing stores, as a restarted
// process would.
func newHarnessWith(t *testing.T, cfg Config, places ports.PlaceStore, challenges ports.ChallengeStore) *harness {
	t.Helper()
	events := &recordingEvents{}
	cfg.JobTimeout = time.Minute
	coord, err := New(cfg, signature.NewEd25519(), places, challenges, events, zaptest.NewLogger(t))
	require.NoError(t, err)
	return &harness{coord: coord, places: places, challenges: challenges, events: events}
}

func (h *harness) seed(t *testing.T, id string, coords *core.Coordinates) {
	t.Helper()
	require.NoError(t, h.places.Create(context.Background(), core.PlaceRecord{
		ID:          id,
		Owner:       "owner",
		Name:        "place " + id,
		Coordinates: coords,
		Status:      core.StatusAwaitingValidator,
		UpdatedAt:   time.Now().UTC(),
	}))
}

func (h *harness) status(t *testing.T, id string) core.Status {
	t.Helper()
	rec, err := h.places.Get(context.Background(), id)
	require.NoError(t, err)
	return rec.Status
}

func (h *harness) handle(t *testing.T, id core.SessionID, typ string, data any) {
	t.Helper()
	env, err := NewEnvelope(typ, data)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, h.coord.Handle(context.Background(), id, raw))
}

// join connects a wallet and signs it up.
func (h *harness) join(t *testing.T, w *testutil.Wallet) (core.SessionID, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	id := h.coord.Connect(conn)
	callbackID := uuid.NewString()
	h.handle(t, id, TypeSignup, SignupRequest{
		PublicKey:     w.Address(),
		SignedMessage: w.Sign(signature.SignupMessage(callbackID, w.Address())),
		CallbackID:    callbackID,
	})
	session, ok := h.coord.Registry().Get(id)
	require.True(t, ok)
	require.Equal(t, w.Identity(), session.Identity)
	return id, conn
}

var somewhere = &core.Coordinates{Lat: 52.52, Lng: 13.405}

func dec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func sampleMeasurement() core.Measurement {
	return core.Measurement{
		AQI:  dec("2"),
		PM25: dec("3.51"),
		PM10: dec("7.25"),
		CO:   dec("201.94"),
		NO:   dec("0.01"),
		SO2:  dec("0.64"),
		NH3:  dec("0.12"),
		NO2:  dec("0.77"),
		O3:   dec("68.66"),
	}
}

func signedReply(w *testutil.Wallet, d ValidateDispatch, m core.Measurement) ValidateReply {
	return ValidateReply{
		PlaceID:       d.PlaceID,
		CallbackID:    d.CallbackID,
		ValidatorID:   w.Address(),
		SignedMessage: w.Sign(signature.ReplyMessage(d.CallbackID)),
		Measurement:   m,
	}
}

func requireMeasurement(t *testing.T, want, got core.Measurement) {
	t.Helper()
	pairs := [][2]decimal.NullDecimal{
		{want.AQI, got.AQI}, {want.PM25, got.PM25}, {want.PM10, got.PM10},
		{want.CO, got.CO}, {want.NO, got.NO}, {want.SO2, got.SO2},
		{want.NH3, got.NH3}, {want.NO2, got.NO2}, {want.O3, got.O3},
	}
	for i, p := range pairs {
		require.True(t, p[1].Valid, "field %d not set", i)
		require.True(t, p[0].Decimal.Equal(p[1].Decimal), "field %d: want %s got %s", i, p[0].Decimal, p[1].Decimal)
	}
}
