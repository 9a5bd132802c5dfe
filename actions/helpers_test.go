package actions

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
	"ha_ocpp/session"
)

const waitFor = 2 * time.Second

type pipeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, io.EOF
	case data := <-c.in:
		return data, nil
	}
}

func (c *pipeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	case c.out <- data:
		return nil
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) RemoteAddr() string { return "127.0.0.1:40001" }

type request struct {
	action  string
	payload json.RawMessage
}

// fakeCharger answers every call of the session from a table of canned
// payloads and keeps what it was asked.
type fakeCharger struct {
	t    *testing.T
	conn *pipeConn

	mu       sync.Mutex
	config   map[string]string
	answers  map[string][]string
	requests []request
	nextID   int
	results  chan []json.RawMessage
}

func (ch *fakeCharger) run() {
	for {
		select {
		case data := <-ch.conn.out:
			ch.route(data)
		case <-ch.conn.closed:
			return
		}
	}
}

func (ch *fakeCharger) route(data []byte) {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || len(fields) < 3 {
		ch.t.Errorf("server sent malformed frame %s", data)
		return
	}
	var typ int
	var id, action string
	json.Unmarshal(fields[0], &typ)
	json.Unmarshal(fields[1], &id)
	if typ != int(codec.CALL) {
		ch.results <- fields
		return
	}
	json.Unmarshal(fields[2], &action)

	ch.mu.Lock()
	ch.requests = append(ch.requests, request{action: action, payload: fields[3]})
	answer := ch.answerLocked(action, fields[3])
	ch.mu.Unlock()

	if answer == "" {
		return
	}
	if answer[0] == '!' {
		ch.conn.in <- []byte(fmt.Sprintf(`[4,%q,%q,"refused",{}]`, id, answer[1:]))
		return
	}
	ch.conn.in <- []byte(fmt.Sprintf(`[3,%q,%s]`, id, answer))
}

// answerLocked pops the next canned answer of action. The last one stays and
// repeats. An answer starting with ! is sent back as a CallError with that code.
func (ch *fakeCharger) answerLocked(action string, payload json.RawMessage) string {
	if queue := ch.answers[action]; len(queue) > 0 {
		answer := queue[0]
		if len(queue) > 1 {
			ch.answers[action] = queue[1:]
		}
		return answer
	}
	switch action {
	case core.GetConfigurationFeatureName:
		var request core.GetConfigurationRequest
		json.Unmarshal(payload, &request)
		key := request.Key[0]
		if value, ok := ch.config[key]; ok {
			return fmt.Sprintf(`{"configurationKey":[{"key":%q,"readonly":false,"value":%q}]}`, key, value)
		}
		return fmt.Sprintf(`{"unknownKey":[%q]}`, key)
	case core.ChangeConfigurationFeatureName, remotetrigger.TriggerMessageFeatureName:
		return `{"status":"Accepted"}`
	}
	return ""
}

func (ch *fakeCharger) answer(action string, payloads ...string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.answers[action] = payloads
}

// sent returns the payloads of every call of action, in order.
func (ch *fakeCharger) sent(action string) []json.RawMessage {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	var payloads []json.RawMessage
	for _, r := range ch.requests {
		if r.action == action {
			payloads = append(payloads, r.payload)
		}
	}
	return payloads
}

// call sends a Call from the charger and waits for the answer.
func (ch *fakeCharger) call(action, payload string) []json.RawMessage {
	ch.t.Helper()
	ch.mu.Lock()
	ch.nextID++
	id := fmt.Sprintf("cp-%d", ch.nextID)
	ch.mu.Unlock()
	ch.conn.in <- []byte(fmt.Sprintf(`[2,%q,%q,%s]`, id, action, payload))
	select {
	case fields := <-ch.results:
		return fields
	case <-time.After(waitFor):
		ch.t.Fatalf("no answer to %s", action)
		return nil
	}
}

type sessionMap map[string]*session.ChargePoint

func (m sessionMap) Get(identity string) (*session.ChargePoint, bool) {
	cp, ok := m[identity]
	return cp, ok
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// connectCharger boots a charger reporting config behind a fresh session and
// waits until the session knows its feature profiles.
func connectCharger(t *testing.T, config map[string]string) (*session.ChargePoint, *fakeCharger) {
	settings := session.DefaultSettings()
	settings.CallTimeout = waitFor
	settings.MonitoredVariablesAutoconfig = false
	settings.MonitoredVariables = []string{session.DefaultMeasurand}
	settings.RemoteIDTag = "remote-tag"
	cp := session.New("CP1", session.Config{
		Codec:    codec.New(true),
		Settings: settings,
		Logger:   quietLogger(),
	})
	t.Cleanup(func() { cp.Close() })

	ch := serveCharger(t, cp, config)
	require.Eventually(t, cp.Connected, waitFor, 5*time.Millisecond)

	fields := ch.call(core.BootNotificationFeatureName, `{"chargePointVendor":"VendorX","chargePointModel":"ModelY"}`)
	require.JSONEq(t, "3", string(fields[0]))
	require.Eventually(t, func() bool { return cp.SupportedFeatures() != 0 }, waitFor, 5*time.Millisecond)
	return cp, ch
}

// serveCharger attaches a new fake charger connection to cp. On a session
// that was served before this counts as a reconnect.
func serveCharger(t *testing.T, cp *session.ChargePoint, config map[string]string) *fakeCharger {
	conn := &pipeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	ch := &fakeCharger{
		t:       t,
		conn:    conn,
		config:  config,
		answers: map[string][]string{},
		results: make(chan []json.RawMessage, 16),
	}
	go ch.run()

	ctx, cancel := context.WithCancel(context.Background())
	go cp.Serve(ctx, conn)
	t.Cleanup(cancel)
	return ch
}

func newFacade(cp *session.ChargePoint) *Facade {
	return New(sessionMap{cp.ID(): cp}, quietLogger())
}
