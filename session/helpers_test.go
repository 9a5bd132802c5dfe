package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"ha_ocpp/codec"
)

const waitFor = 2 * time.Second

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
	mu     sync.Mutex
	err    error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.err != nil {
			return nil, c.err
		}
		return nil, io.EOF
	case data := <-c.in:
		return data, nil
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	c.out <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// drop closes the connection as if the network failed.
func (c *fakeConn) drop() {
	c.mu.Lock()
	c.err = errors.New("connection reset by peer")
	c.mu.Unlock()
	c.Close()
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) RemoteAddr() string {
	return "127.0.0.1:40000"
}

type serverCall struct {
	id      string
	action  string
	payload json.RawMessage
}

// testCharger plays the charge point side of a fakeConn.
type testCharger struct {
	t       *testing.T
	conn    *fakeConn
	stop    chan struct{}
	results chan []json.RawMessage
	calls   chan serverCall

	mu      sync.Mutex
	nextID  int
	answers map[string]func(json.RawMessage) string
	counts  map[string]int
	callIDs []string
}

func newTestCharger(t *testing.T, conn *fakeConn) *testCharger {
	ch := &testCharger{
		t:       t,
		conn:    conn,
		stop:    make(chan struct{}),
		results: make(chan []json.RawMessage, 16),
		calls:   make(chan serverCall, 64),
		answers: map[string]func(json.RawMessage) string{},
		counts:  map[string]int{},
	}
	go ch.run()
	t.Cleanup(func() { close(ch.stop) })
	return ch
}

func (ch *testCharger) run() {
	for {
		select {
		case data := <-ch.conn.out:
			ch.route(data)
		case <-ch.stop:
			return
		}
	}
}

func (ch *testCharger) route(data []byte) {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || len(fields) < 3 {
		ch.t.Errorf("server sent malformed frame %s", data)
		return
	}
	var typ int
	var id string
	json.Unmarshal(fields[0], &typ)
	json.Unmarshal(fields[1], &id)
	if typ != int(codec.CALL) {
		ch.results <- fields
		return
	}
	var action string
	json.Unmarshal(fields[2], &action)

	ch.mu.Lock()
	ch.counts[action]++
	ch.callIDs = append(ch.callIDs, id)
	answer := ch.answers[action]
	ch.mu.Unlock()

	if answer != nil {
		ch.conn.in <- []byte(fmt.Sprintf(`[3,%q,%s]`, id, answer(fields[3])))
		return
	}
	ch.calls <- serverCall{id: id, action: action, payload: fields[3]}
}

func (ch *testCharger) answer(action string, fn func(json.RawMessage) string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.answers[action] = fn
}

func fixed(payload string) func(json.RawMessage) string {
	return func(json.RawMessage) string { return payload }
}

// answerDiscovery answers the calls discovery makes from config.
func (ch *testCharger) answerDiscovery(config map[string]string) {
	ch.answer(core.GetConfigurationFeatureName, func(payload json.RawMessage) string {
		var request core.GetConfigurationRequest
		json.Unmarshal(payload, &request)
		key := request.Key[0]
		if value, ok := config[key]; ok {
			return fmt.Sprintf(`{"configurationKey":[{"key":%q,"readonly":false,"value":%q}]}`, key, value)
		}
		return fmt.Sprintf(`{"unknownKey":[%q]}`, key)
	})
	ch.answer(core.ChangeConfigurationFeatureName, fixed(`{"status":"Accepted"}`))
	ch.answer(remotetrigger.TriggerMessageFeatureName, fixed(`{"status":"Accepted"}`))
}

func (ch *testCharger) count(action string) int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.counts[action]
}

func (ch *testCharger) ids() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]string(nil), ch.callIDs...)
}

// send writes a raw frame and returns the answer to it.
func (ch *testCharger) send(frame string) []json.RawMessage {
	ch.t.Helper()
	ch.conn.in <- []byte(frame)
	select {
	case fields := <-ch.results:
		return fields
	case <-time.After(waitFor):
		ch.t.Fatalf("no answer to %s", frame)
		return nil
	}
}

// call sends action with payload and returns the answer frame.
func (ch *testCharger) call(action, payload string) []json.RawMessage {
	ch.t.Helper()
	ch.mu.Lock()
	ch.nextID++
	id := fmt.Sprintf("cp-%d", ch.nextID)
	ch.mu.Unlock()
	fields := ch.send(fmt.Sprintf(`[2,%q,%q,%s]`, id, action, payload))
	var answerID string
	json.Unmarshal(fields[1], &answerID)
	require.Equal(ch.t, id, answerID)
	return fields
}

// result calls action and decodes the CallResult payload into v.
func (ch *testCharger) result(action, payload string, v interface{}) {
	ch.t.Helper()
	fields := ch.call(action, payload)
	require.JSONEq(ch.t, "3", string(fields[0]), "expected a CallResult, got %s", fields)
	require.NoError(ch.t, json.Unmarshal(fields[2], v))
}

// nextCall waits for a server call that has no automatic answer.
func (ch *testCharger) nextCall() serverCall {
	ch.t.Helper()
	select {
	case c := <-ch.calls:
		return c
	case <-time.After(waitFor):
		ch.t.Fatal("no call from server")
		return serverCall{}
	}
}

func (ch *testCharger) reply(id, payload string) {
	ch.conn.in <- []byte(fmt.Sprintf(`[3,%q,%s]`, id, payload))
}

func (ch *testCharger) replyError(id, code, description string) {
	ch.conn.in <- []byte(fmt.Sprintf(`[4,%q,%q,%q,{}]`, id, code, description))
}

func (ch *testCharger) boot() {
	ch.t.Helper()
	var conf core.BootNotificationConfirmation
	ch.result(core.BootNotificationFeatureName, `{"chargePointVendor":"VendorX","chargePointModel":"ModelY","chargePointSerialNumber":"SN1","firmwareVersion":"1.2.3"}`, &conf)
	require.Equal(ch.t, core.RegistrationStatusAccepted, conf.Status)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type recordingObserver struct {
	mu      sync.Mutex
	changed []string
}

func (o *recordingObserver) NotifyMetricChanged(identity, measurand string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changed = append(o.changed, measurand)
}

func (o *recordingObserver) seen(measurand string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.changed {
		if m == measurand {
			return true
		}
	}
	return false
}

func testSettings() Settings {
	settings := DefaultSettings()
	settings.CallTimeout = waitFor
	settings.MonitoredVariablesAutoconfig = false
	settings.MonitoredVariables = []string{DefaultMeasurand, "Power.Active.Import"}
	return settings
}

func newTestChargePoint(t *testing.T, configure ...func(*Config)) *ChargePoint {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	config := Config{
		Codec:    codec.New(true),
		Settings: testSettings(),
		Logger:   logger,
	}
	for _, fn := range configure {
		fn(&config)
	}
	cp := New("CP1", config)
	t.Cleanup(func() { cp.Close() })
	return cp
}

// serve connects a fresh fake connection and returns the charger driving it
// plus a channel carrying the result of Serve. setup runs before the session
// sees the connection.
func serve(t *testing.T, cp *ChargePoint, setup ...func(*testCharger)) (*testCharger, *fakeConn, <-chan error) {
	conn := newFakeConn()
	ch := newTestCharger(t, conn)
	for _, fn := range setup {
		fn(ch)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cp.Serve(ctx, conn) }()
	t.Cleanup(cancel)
	require.Eventually(t, cp.Connected, waitFor, 5*time.Millisecond)
	return ch, conn, done
}
