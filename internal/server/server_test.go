// ABOUTME: Tests for the remote control server
// ABOUTME: Drives a fake transport through real WebSocket clients
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/framesync/internal/client"
	"github.com/Resonate-Protocol/framesync/internal/protocol"
	"github.com/Resonate-Protocol/framesync/internal/version"
	"github.com/Resonate-Protocol/framesync/pkg/transport"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTransport struct {
	mu    sync.Mutex
	calls []string
	snap  transport.Snapshot
	err   error
}

func (f *fakeTransport) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeTransport) Play() error  { return f.record("play") }
func (f *fakeTransport) Pause() error { return f.record("pause") }
func (f *fakeTransport) Stop() error  { return f.record("stop") }
func (f *fakeTransport) Seek(frame int) error {
	return f.record("seek:" + strconv.Itoa(frame))
}
func (f *fakeTransport) Step(delta int) error {
	return f.record("step:" + strconv.Itoa(delta))
}
func (f *fakeTransport) SetDropFrameMode(enabled bool) error {
	if enabled {
		return f.record("drop:on")
	}
	return f.record("drop:off")
}
func (f *fakeTransport) State() transport.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeTransport) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func startServer(t *testing.T, tr Transport) (*Server, string) {
	t.Helper()
	s := New(Config{Name: "studio"}, tr)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, strings.TrimPrefix(ts.URL, "http://")
}

func connect(t *testing.T, addr, id string) *client.Client {
	t.Helper()
	c := client.NewClient(client.Config{ServerAddr: addr, ClientID: id, Name: "remote-" + id})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func TestHelloCarriesState(t *testing.T) {
	tr := &fakeTransport{snap: transport.Snapshot{FrameIndex: 7, FrameCount: 90, Mode: transport.ModePaused}}
	srv, addr := startServer(t, tr)

	c := connect(t, addr, "a")
	hello := c.Hello()
	assert.Equal(t, "studio", hello.Name)
	assert.Equal(t, protocol.Version, hello.Version)
	require.NotNil(t, hello.DeviceInfo)
	assert.Equal(t, version.Product, hello.DeviceInfo.ProductName)
	assert.Equal(t, version.Version, hello.DeviceInfo.SoftwareVersion)
	assert.Equal(t, 7, hello.State.Frame)
	assert.Equal(t, "paused", hello.State.Mode)
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, time.Millisecond)
}

func TestCommandsReachTransport(t *testing.T) {
	tr := &fakeTransport{}
	_, addr := startServer(t, tr)
	c := connect(t, addr, "a")

	require.NoError(t, c.Play())
	require.NoError(t, c.Seek(120))
	require.NoError(t, c.Step(-3))
	require.NoError(t, c.SetDropFrame(true))
	require.NoError(t, c.Pause())
	require.NoError(t, c.Stop())

	want := []string{"play", "seek:120", "step:-3", "drop:on", "pause", "stop"}
	require.Eventually(t, func() bool { return len(tr.recorded()) == len(want) }, time.Second, time.Millisecond)
	assert.Equal(t, want, tr.recorded())
}

func TestCommandErrorReported(t *testing.T) {
	tr := &fakeTransport{err: transport.ErrClosed}
	_, addr := startServer(t, tr)
	c := connect(t, addr, "a")

	require.NoError(t, c.Play())
	select {
	case se := <-c.Errors:
		assert.Equal(t, "command_failed", se.Code)
		assert.Contains(t, se.Message, "closed")
	case <-time.After(time.Second):
		t.Fatal("no error reply")
	}
}

func TestBroadcastStateAndEvents(t *testing.T) {
	srv, addr := startServer(t, &fakeTransport{})
	a := connect(t, addr, "a")
	b := connect(t, addr, "b")
	require.Eventually(t, func() bool { return srv.ClientCount() == 2 }, time.Second, time.Millisecond)

	srv.PublishEvent(transport.Event{Type: transport.EventFrameRendered, Frame: 1})
	srv.PublishState(transport.Snapshot{FrameIndex: 33, Mode: transport.ModePlaying})
	srv.PublishEvent(transport.Event{Type: transport.EventAudioDegraded, Err: errors.New("device lost")})

	for _, c := range []*client.Client{a, b} {
		select {
		case st := <-c.States:
			assert.Equal(t, 33, st.Frame)
			assert.Equal(t, "playing", st.Mode)
		case <-time.After(time.Second):
			t.Fatal("no state update")
		}
		select {
		case ev := <-c.Events:
			assert.Equal(t, "audio_degraded", ev.Type, "frame render events are not forwarded")
			assert.Equal(t, "device lost", ev.Error)
		case <-time.After(time.Second):
			t.Fatal("no event")
		}
	}
}

func TestDuplicateClientRejected(t *testing.T) {
	srv, addr := startServer(t, &fakeTransport{})
	connect(t, addr, "same")
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, time.Millisecond)

	dup := client.NewClient(client.Config{ServerAddr: addr, ClientID: "same", Name: "other"})
	err := dup.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate_client_id")
	assert.Equal(t, 1, srv.ClientCount())
}

func TestBadHelloRejected(t *testing.T) {
	_, addr := startServer(t, &fakeTransport{})

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+Path, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(protocol.Message{Type: protocol.TypePlay}))
	var reply protocol.Message
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, protocol.TypeServerError, reply.Type)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	srv, addr := startServer(t, &fakeTransport{})
	c := connect(t, addr, "a")
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, time.Millisecond)

	c.Close()
	require.Eventually(t, func() bool { return srv.ClientCount() == 0 }, time.Second, time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	_, addr := startServer(t, &fakeTransport{})
	defer http.DefaultClient.CloseIdleConnections()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestCloseDisconnectsClients(t *testing.T) {
	srv, addr := startServer(t, &fakeTransport{})
	c := connect(t, addr, "a")
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, time.Millisecond)

	srv.Close()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client still connected after server close")
	}
	assert.Zero(t, srv.ClientCount())
}
