// Package notifier publishes metric notifications on NATS and serves host
// commands through NATS request/reply.
package notifier

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"ha_ocpp/common"
	"ha_ocpp/notifier"
)

type Function func(string, []byte, chan common.Response)

// Config of the NATS side. The zero value connects to nats.DefaultURL and
// serves commands on the "request" subject.
type Config struct {
	URL     string
	Subject string
	Name    string
	Timeout time.Duration
}

type NatsCentralSystemNotifier struct {
	notification chan notifier.Notification // metric updates to publish
	connection   *nats.Conn
	subscription *nats.Subscription
	handlers     map[string]Function
	timeout      time.Duration // how long a command may take
	config       Config
	validate     *validator.Validate
	log          logrus.FieldLogger

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(config Config, logger logrus.FieldLogger) *NatsCentralSystemNotifier {
	if config.URL == "" {
		config.URL = nats.DefaultURL
	}
	if config.Subject == "" {
		config.Subject = "request"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &NatsCentralSystemNotifier{
		handlers: make(map[string]Function),
		timeout:  config.Timeout,
		config:   config,
		validate: validator.New(),
		log:      logger.WithField("component", "nats"),
		stop:     make(chan struct{}),
	}
}

func (ncs *NatsCentralSystemNotifier) SetTimeout(timeout time.Duration) {
	ncs.timeout = timeout
}

func (ncs *NatsCentralSystemNotifier) Timeout() time.Duration {
	return ncs.timeout
}

func (ncs *NatsCentralSystemNotifier) AddHandler(action string, fn Function) {
	ncs.handlers[action] = fn
}

func (ncs *NatsCentralSystemNotifier) SetChannel(notification chan notifier.Notification) {
	ncs.notification = notification
}

func (ncs *NatsCentralSystemNotifier) notificationFromCentralSystem() {
	defer ncs.wg.Done()
	for {
		select {
		case n := <-ncs.notification:
			bt, err := json.Marshal(n.Data)
			if err != nil {
				ncs.log.WithError(err).Errorf("failed to encode notification for %s", n.Topic)
				continue
			}
			if err := ncs.connection.Publish(n.Topic, bt); err != nil {
				ncs.log.WithError(err).Warnf("failed to publish %s", n.Topic)
			}
		case <-ncs.stop:
			return
		}
	}
}

// handleRequest runs one command and returns the encoded common.Response.
func (ncs *NatsCentralSystemNotifier) handleRequest(data []byte) []byte {
	var command common.Command
	if err := json.Unmarshal(data, &command); err != nil {
		return ncs.errorResponse("command.format.not.valid", fmt.Sprintf("command is not valid json: %v", err))
	}
	if err := ncs.validate.Struct(&command); err != nil {
		return ncs.errorResponse("command.format.not.valid", fmt.Sprintf("command is not valid: %v", err))
	}
	log := ncs.log.WithFields(logrus.Fields{"client": command.ChargePointId, "message": command.Action})
	log.Debugf("request %s", data)

	fn, exists := ncs.handlers[command.Action]
	if !exists {
		return ncs.errorResponse("command.action.not.found", fmt.Sprintf("no action %q", command.Action))
	}

	payload, err := json.Marshal(command.Payload)
	if err != nil {
		return ncs.errorResponse("command.format.not.valid", err.Error())
	}
	// buffered so a handler finishing after the timeout does not block
	responseChannel := make(chan common.Response, 1)
	go fn(command.ChargePointId, payload, responseChannel)

	timer := time.NewTimer(ncs.timeout)
	defer timer.Stop()
	select {
	case response := <-responseChannel:
		bt, err := json.Marshal(response)
		if err != nil {
			return ncs.errorResponse("command.response.not.valid", err.Error())
		}
		log.Debugf("response %s", bt)
		return bt
	case <-timer.C:
		log.Warnf("no response within %s", ncs.timeout)
		return ncs.errorResponse("request.timeout", fmt.Sprintf("no response within %s", ncs.timeout))
	}
}

func (ncs *NatsCentralSystemNotifier) errorResponse(code, message string) []byte {
	ncs.log.Errorf("%s: %s", code, message)
	bt, _ := json.Marshal(common.Response{
		Err: &common.Error{
			Code:    code,
			Message: message,
		},
	})
	return bt
}

// requestHandler serves the request/reply subject. Each request runs in its
// own goroutine so a slow charger does not hold up the others.
func (ncs *NatsCentralSystemNotifier) requestHandler() error {
	sub, err := ncs.connection.Subscribe(ncs.config.Subject, func(m *nats.Msg) {
		go func() {
			if err := m.Respond(ncs.handleRequest(m.Data)); err != nil {
				ncs.log.WithError(err).Warn("failed to respond")
			}
		}()
	})
	if err != nil {
		return err
	}
	ncs.subscription = sub
	return nil
}

func (ncs *NatsCentralSystemNotifier) Start() error {
	options := []nats.Option{nats.MaxReconnects(-1)}
	if ncs.config.Name != "" {
		options = append(options, nats.Name(ncs.config.Name))
	}
	nc, err := nats.Connect(ncs.config.URL, options...)
	if err != nil {
		return fmt.Errorf("connecting to nats at %s: %w", ncs.config.URL, err)
	}
	ncs.connection = nc
	if err := ncs.requestHandler(); err != nil {
		nc.Close()
		return fmt.Errorf("subscribing to %s: %w", ncs.config.Subject, err)
	}
	if ncs.notification != nil {
		ncs.wg.Add(1)
		go ncs.notificationFromCentralSystem()
	}
	ncs.log.Infof("connected to nats at %s, serving %q", nc.ConnectedUrl(), ncs.config.Subject)
	return nil
}

func (ncs *NatsCentralSystemNotifier) Stop() {
	if ncs.connection == nil {
		return
	}
	close(ncs.stop)
	ncs.wg.Wait()
	if ncs.subscription != nil {
		ncs.subscription.Unsubscribe()
	}
	if err := ncs.connection.Drain(); err != nil {
		ncs.connection.Close()
	}
	ncs.log.Info("nats stopped")
}
