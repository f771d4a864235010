package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/lox/liarspoker/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

// newTestServer starts a websocket server that calls handle for every
// connection with its 1-based connection number.
func newTestServer(t *testing.T, handle func(conn *websocket.Conn, n int)) *httptest.Server {
	t.Helper()
	var count atomic.Int32
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, int(count.Add(1)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// write runs on server goroutines, where failing the test is not allowed;
// a failed write shows up as a missing delivery on the client side.
func write(conn *websocket.Conn, frame string) {
	_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newTestManager(t *testing.T, url string) *Manager {
	t.Helper()
	m := NewManager(Options{
		URL:               url,
		ReconnectAttempts: 2,
		ReconnectDelay:    10 * time.Millisecond,
		HandshakeTimeout:  time.Second,
		Logger:            quietLogger(),
	})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws", false},
		{"https://liars.example.com/", "wss://liars.example.com/ws", false},
		{"ws://localhost:8080/socket", "ws://localhost:8080/socket", false},
		{"ftp://localhost", "", true},
		{"http://", "", true},
		{"::not a url", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := WebsocketURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnectAssignsSessionID(t *testing.T) {
	srv := newTestServer(t, func(conn *websocket.Conn, _ int) {
		write(conn, `{"event":"connected","data":{"sid":"P1"}}`)
		write(conn, `{"event":"game_start","data":{"text":"go","json":{"players":["P1","P2"]}}}`)
		drain(conn)
	})
	m := newTestManager(t, srv.URL)

	got := make(chan protocol.Frame, 1)
	m.Subscribe(protocol.EventGameStart, func(f protocol.Frame) { got <- f })

	require.NoError(t, m.Connect(context.Background()))

	select {
	case f := <-got:
		assert.Equal(t, protocol.EventGameStart, f.Event)
	case <-time.After(5 * time.Second):
		t.Fatal("no game_start delivered")
	}
	// The connected frame is processed before game_start on the same reader.
	assert.Equal(t, "P1", m.SessionID())
	assert.Equal(t, StatusConnected, m.Status())
}

func TestFramesDeliveredInOrder(t *testing.T) {
	const frames = 50
	srv := newTestServer(t, func(conn *websocket.Conn, _ int) {
		for i := 0; i < frames; i++ {
			write(conn, fmt.Sprintf(`{"event":"message","data":{"n":%d}}`, i))
		}
		write(conn, `not json`)
		write(conn, `{"event":"message","data":{"n":"last"}}`)
		drain(conn)
	})
	m := newTestManager(t, srv.URL)

	var seen []string
	done := make(chan struct{})
	m.Subscribe(protocol.EventMessage, func(f protocol.Frame) {
		seen = append(seen, string(f.Data))
		if len(seen) == frames+1 {
			close(done)
		}
	})
	require.NoError(t, m.Connect(context.Background()))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("frames not delivered")
	}
	for i := 0; i < frames; i++ {
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), seen[i])
	}
	assert.JSONEq(t, `{"n":"last"}`, seen[frames], "undecodable frames are skipped")
}

func TestSendWritesFrame(t *testing.T) {
	received := make(chan string, 1)
	srv := newTestServer(t, func(conn *websocket.Conn, _ int) {
		write(conn, `{"event":"connected","data":{"sid":"P1"}}`)
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- string(data)
		}
		drain(conn)
	})
	m := newTestManager(t, srv.URL)

	connected := make(chan struct{}, 1)
	m.Subscribe(protocol.EventConnected, func(protocol.Frame) { connected <- struct{}{} })
	require.NoError(t, m.Connect(context.Background()))
	<-connected

	require.NoError(t, m.Send(protocol.EventBet, protocol.Bet{Bet: "pair_K"}))
	select {
	case data := <-received:
		assert.JSONEq(t, `{"event":"bet","data":{"bet":"pair_K"}}`, data)
	case <-time.After(5 * time.Second):
		t.Fatal("server received nothing")
	}
}

func TestSendWhileDisconnectedIsDropped(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:1")

	err := m.Send(protocol.EventPlay, nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Send(protocol.EventPlay, nil), ErrClosed)
	assert.ErrorIs(t, m.Connect(context.Background()), ErrClosed)
}

func TestConnectRejectsBadURL(t *testing.T) {
	m := newTestManager(t, "gopher://nowhere")
	assert.Error(t, m.Connect(context.Background()))
	assert.Equal(t, StatusDisconnected, m.Status())
}

func TestReconnectDoesNotDuplicateDelivery(t *testing.T) {
	srv := newTestServer(t, func(conn *websocket.Conn, n int) {
		write(conn, fmt.Sprintf(`{"event":"connected","data":{"sid":"S%d"}}`, n))
		write(conn, `{"event":"game_end","data":{"text":"over","json":{}}}`)
		if n == 1 {
			return // drop the first connection
		}
		drain(conn)
	})
	m := newTestManager(t, srv.URL)

	var deliveries atomic.Int32
	m.Subscribe(protocol.EventGameEnd, func(protocol.Frame) { deliveries.Add(1) })
	require.NoError(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return m.SessionID() == "S2" && deliveries.Load() == 2
	}, 5*time.Second, 5*time.Millisecond)

	// One frame per connection, one handler: never more than two.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), deliveries.Load())
	assert.Equal(t, StatusConnected, m.Status())
}

func TestGivesUpAfterReconnectAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := newTestManager(t, url)

	var mu sync.Mutex
	var statuses []Status
	m.OnStatus(func(s Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})

	require.NoError(t, m.Connect(context.Background()))
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("manager kept retrying")
	}

	assert.Equal(t, StatusDisconnected, m.Status())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusConnecting, StatusReconnecting, StatusDisconnected}, statuses)
}

func TestSubscribeKeyedReplaces(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:1")

	var first, second int
	m.SubscribeKeyed("session", protocol.EventError, func(protocol.Frame) { first++ })
	m.SubscribeKeyed("session", protocol.EventError, func(protocol.Frame) { second++ })

	m.dispatch(protocol.Frame{Event: protocol.EventError})
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:1")

	var a, b int
	unsubA := m.Subscribe(protocol.EventMessage, func(protocol.Frame) { a++ })
	m.Subscribe(protocol.EventMessage, func(protocol.Frame) { b++ })

	unsubA()
	unsubA()
	m.dispatch(protocol.Frame{Event: protocol.EventMessage})

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
}

// Teardown may be triggered from several places at once; it must run
// exactly once and leave nothing subscribed.
func TestCloseIsIdempotent(t *testing.T) {
	srv := newTestServer(t, func(conn *websocket.Conn, _ int) {
		write(conn, `{"event":"connected","data":{"sid":"P1"}}`)
		drain(conn)
	})
	m := newTestManager(t, srv.URL)

	var calls atomic.Int32
	m.Subscribe(protocol.EventMessage, func(protocol.Frame) { calls.Add(1) })
	require.NoError(t, m.Connect(context.Background()))
	require.Eventually(t, func() bool { return m.SessionID() == "P1" }, 5*time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Close())
		}()
	}
	wg.Wait()

	assert.Equal(t, StatusDisconnected, m.Status())
	assert.Empty(t, m.SessionID())
	m.dispatch(protocol.Frame{Event: protocol.EventMessage})
	assert.Zero(t, calls.Load())

	select {
	case <-m.Done():
	default:
		t.Fatal("connection loop still running")
	}
}

func TestCloseBeforeConnect(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:1")
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	<-m.Done()
}
