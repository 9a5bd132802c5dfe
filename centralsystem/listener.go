package centralsystem

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var ErrSubprotocolMismatch = errors.New("no supported websocket subprotocol requested")

// ListenerConfig describes where and how charge points connect.
type ListenerConfig struct {
	Host         string
	Port         int
	Subprotocols []string

	// TLS is enabled when both files are set.
	CertFile  string
	KeyFile   string
	TLSConfig *tls.Config

	PingInterval time.Duration
	PingTimeout  time.Duration
	PingTries    int
}

// Listener is the websocket endpoint charge points connect to. The identity
// of a charge point is the last segment of the path it connects to.
type Listener struct {
	config   ListenerConfig
	registry *Registry
	router   *mux.Router
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	server *http.Server
	conns  map[*wsConn]struct{}
}

func NewListener(config ListenerConfig, registry *Registry, logger logrus.FieldLogger) *Listener {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if len(config.Subprotocols) == 0 {
		config.Subprotocols = []string{"ocpp1.6"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		config:   config,
		registry: registry,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{
			Subprotocols: config.Subprotocols,
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
		conns:  map[*wsConn]struct{}{},
	}
	l.router.PathPrefix("/").HandlerFunc(l.handleConnection)
	return l
}

// Handler exposes the router, e.g. for mounting under an existing server.
func (l *Listener) Handler() http.Handler {
	return l.router
}

// Addr is the host:port the listener binds.
func (l *Listener) Addr() string {
	return net.JoinHostPort(l.config.Host, strconv.Itoa(l.config.Port))
}

// ListenAndServe blocks until Shutdown is called or the socket fails.
func (l *Listener) ListenAndServe() error {
	server := &http.Server{
		Addr:      l.Addr(),
		Handler:   l.router,
		TLSConfig: l.config.TLSConfig,
	}
	l.mu.Lock()
	l.server = server
	l.mu.Unlock()

	var err error
	if l.config.CertFile != "" && l.config.KeyFile != "" {
		l.log.Infof("listening on wss://%s", server.Addr)
		err = server.ListenAndServeTLS(l.config.CertFile, l.config.KeyFile)
	} else {
		l.log.Infof("listening on ws://%s", server.Addr)
		err = server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes the registry, stops accepting connections, closes the live
// ones and waits for the connection handlers to return. The registry goes
// first so calls still in flight fail with session.ErrSessionClosed rather
// than with a transport error.
func (l *Listener) Shutdown(ctx context.Context) error {
	err := l.registry.Close()

	l.mu.Lock()
	l.cancel()
	server := l.server
	conns := make([]*wsConn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	if server != nil {
		if shutdownErr := server.Shutdown(ctx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}
	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	l.log.Info("listener stopped")
	return err
}

func (l *Listener) handleConnection(w http.ResponseWriter, r *http.Request) {
	identity := identityFromPath(r.URL.Path)
	log := l.log.WithFields(logrus.Fields{"client": identity, "remote": r.RemoteAddr})
	if identity == "" {
		log.Warn("rejecting connection without charge point identity")
		http.Error(w, "charge point identity is required", http.StatusBadRequest)
		return
	}
	if err := l.checkSubprotocol(r); err != nil {
		log.WithError(err).Warn("rejecting connection")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Error("failed to upgrade connection to websocket")
		return
	}
	conn := newWSConn(ws, log)
	if !l.track(conn) {
		conn.Close()
		return
	}
	defer l.untrack(conn)

	go conn.keepalive(l.config.PingInterval, l.config.PingTimeout, l.config.PingTries)
	log.Infof("websocket established with subprotocol %s", ws.Subprotocol())
	if err := l.registry.OnConnect(l.ctx, identity, conn); err != nil {
		log.WithError(err).Info("connection ended")
	}
}

func (l *Listener) track(conn *wsConn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil {
		return false
	}
	l.conns[conn] = struct{}{}
	l.wg.Add(1)
	return true
}

func (l *Listener) untrack(conn *wsConn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
	conn.Close()
	l.wg.Done()
}

func (l *Listener) checkSubprotocol(r *http.Request) error {
	requested := websocket.Subprotocols(r)
	if len(requested) == 0 {
		return fmt.Errorf("%w: none requested", ErrSubprotocolMismatch)
	}
	for _, protocol := range requested {
		for _, supported := range l.config.Subprotocols {
			if protocol == supported {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: requested %s, supported %s", ErrSubprotocolMismatch,
		strings.Join(requested, ","), strings.Join(l.config.Subprotocols, ","))
}

func identityFromPath(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
