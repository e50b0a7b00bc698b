package signalclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"paircast/internal/infrastructure/signal"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRelay answers register and join requests with canned results and
// lets tests push arbitrary frames to the connected client.
type fakeRelay struct {
	t  *testing.T
	ts *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	code     string
	joinOK   bool
	joinErr  string
	silence  bool
	received []signal.Envelope
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	upgrader := websocket.Upgrader{}
	r := &fakeRelay{t: t, code: "AB12CD", joinOK: true}

	r.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		require.NoError(t, err)
		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()

		for {
			var env signal.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			r.mu.Lock()
			r.received = append(r.received, env)
			silence := r.silence
			r.mu.Unlock()
			if silence {
				continue
			}
			switch env.Type {
			case signal.TypeRegisterSource:
				r.push(signal.TypeRegisterResult, signal.RegisterResultPayload{OK: true, Code: r.code})
			case signal.TypeJoinViewer:
				r.push(signal.TypeJoinResult, signal.JoinResultPayload{OK: r.joinOK, Error: r.joinErr})
			}
		}
	}))
	t.Cleanup(r.ts.Close)
	return r
}

func (r *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(r.ts.URL, "http")
}

func (r *fakeRelay) push(msgType string, payload interface{}) {
	r.t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(r.t, err)
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotNil(r.t, r.conn)
	require.NoError(r.t, r.conn.WriteJSON(signal.Envelope{Type: msgType, Payload: data}))
}

func (r *fakeRelay) sent() []signal.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]signal.Envelope, len(r.received))
	copy(out, r.received)
	return out
}

func connectedClient(t *testing.T, relay *fakeRelay, opts ...Option) *Client {
	t.Helper()
	c := New(zap.NewNop().Sugar(), opts...)
	require.NoError(t, c.Connect(context.Background(), relay.url()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConnectBadAddress(t *testing.T) {
	c := New(zap.NewNop().Sugar(), WithConnectTimeout(200*time.Millisecond))
	err := c.Connect(context.Background(), "ws://127.0.0.1:1/signal")
	assert.Error(t, err)
}

func TestRegisterAsSource(t *testing.T) {
	relay := newFakeRelay(t)
	c := connectedClient(t, relay)

	code, err := c.RegisterAsSource(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AB12CD", code)
	assert.Equal(t, "AB12CD", c.Code())
}

func TestJoinAsViewer(t *testing.T) {
	relay := newFakeRelay(t)
	c := connectedClient(t, relay)

	require.NoError(t, c.JoinAsViewer(context.Background(), "AB12CD"))
	assert.Equal(t, "AB12CD", c.Code())
}

func TestJoinRejected(t *testing.T) {
	relay := newFakeRelay(t)
	relay.joinOK = false
	relay.joinErr = "already_in_use"
	c := connectedClient(t, relay)

	err := c.JoinAsViewer(context.Background(), "AB12CD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already_in_use")
	assert.Empty(t, c.Code())
}

func TestRegisterAckTimeout(t *testing.T) {
	relay := newFakeRelay(t)
	relay.silence = true
	c := connectedClient(t, relay, WithAckTimeout(150*time.Millisecond))

	_, err := c.RegisterAsSource(context.Background())
	assert.ErrorIs(t, err, ErrAckTimeout)
}

func TestSendsCarryStoredCode(t *testing.T) {
	relay := newFakeRelay(t)
	c := connectedClient(t, relay)

	_, err := c.RegisterAsSource(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.SendOffer("v=0\r\n"))
	require.NoError(t, c.SendCandidate(`{"candidate":"a"}`, true))

	require.Eventually(t, func() bool {
		return len(relay.sent()) >= 3
	}, time.Second, 10*time.Millisecond)

	frames := relay.sent()
	var sdp signal.SDPPayload
	require.NoError(t, json.Unmarshal(frames[1].Payload, &sdp))
	assert.Equal(t, "AB12CD", sdp.Code)

	var cand signal.CandidatePayload
	require.NoError(t, json.Unmarshal(frames[2].Payload, &cand))
	assert.Equal(t, "AB12CD", cand.Code)
	assert.True(t, cand.IsSource)
}

func TestCallbackDispatch(t *testing.T) {
	relay := newFakeRelay(t)
	c := connectedClient(t, relay)

	offers := make(chan string, 1)
	peers := make(chan struct{}, 1)
	c.OnOffer(func(sdp string) { offers <- sdp })
	c.OnPeerJoined(func() { peers <- struct{}{} })

	_, err := c.RegisterAsSource(context.Background())
	require.NoError(t, err)

	relay.push(signal.TypePeerJoined, struct{}{})
	relay.push(signal.TypeOffer, signal.SDPPayload{SDP: "v=0\r\n"})

	select {
	case <-peers:
	case <-time.After(time.Second):
		t.Fatal("peer-joined callback never fired")
	}
	select {
	case sdp := <-offers:
		assert.Equal(t, "v=0\r\n", sdp)
	case <-time.After(time.Second):
		t.Fatal("offer callback never fired")
	}
}

func TestCallbackReplacement(t *testing.T) {
	relay := newFakeRelay(t)
	c := connectedClient(t, relay)

	got := make(chan string, 2)
	c.OnAnswer(func(string) { got <- "first" })
	c.OnAnswer(func(string) { got <- "second" })

	_, err := c.RegisterAsSource(context.Background())
	require.NoError(t, err)

	relay.push(signal.TypeAnswer, signal.SDPPayload{SDP: "v=0\r\n"})

	select {
	case which := <-got:
		assert.Equal(t, "second", which)
	case <-time.After(time.Second):
		t.Fatal("answer callback never fired")
	}
	select {
	case <-got:
		t.Fatal("replaced callback fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCloseIdempotent(t *testing.T) {
	relay := newFakeRelay(t)
	c := connectedClient(t, relay)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.SendOffer("v=0\r\n"), ErrNotConnected)
}

func TestCloseClearsCallbacks(t *testing.T) {
	relay := newFakeRelay(t)
	c := connectedClient(t, relay)

	fired := make(chan struct{}, 1)
	c.OnPeerDisconnected(func() { fired <- struct{}{} })
	require.NoError(t, c.Close())

	select {
	case <-fired:
		t.Fatal("callback fired after close")
	case <-time.After(100 * time.Millisecond):
	}
}
