package ircd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// LinkConfig is one connect.<name> configuration block: the address to
// dial, the protocol dialect to speak, and the autoconnect policy. This
// plays the role of girc's Config (client.go), generalized from "the one
// server this process talks to" to "one of many configured peers".
type LinkConfig struct {
	Name        string
	Address     string
	Port        int
	TLS         bool
	TLSConfig   *tls.Config
	Protocol    string // e.g. "jelp"; defaults to "jelp" if empty
	AutoTimeout time.Duration
	AutoTimer   time.Duration
}

func (c LinkConfig) autoconnects() bool {
	return c.AutoTimeout > 0 || c.AutoTimer > 0
}

// linkConn is the bookkeeping record for one outbound or inbound peer
// connection, the generalized analogue of girc's single implicit
// connection (conn.go's ircConn).
type linkConn struct {
	name          string
	sock          net.Conn
	initiated     bool
	want          string
	dontReconnect bool
}

func (c *linkConn) Close(reason string) error {
	// reason is surfaced via logging by the caller; the wire-level QUIT/
	// SQUIT framing belongs to the protocol layer, not this bookkeeping.
	return c.sock.Close()
}

// Linkage owns the three process-wide tables: timers,
// in-flight connect races ("futures"), and established connections, all
// keyed by lowercased server name. Unlike girc, which dials exactly one
// upstream per Client, Linkage manages an arbitrary peer set.
type Linkage struct {
	mu sync.Mutex

	configs map[string]LinkConfig
	timers  map[string]*time.Timer
	futures map[string]context.CancelFunc
	conns   map[string]*linkConn

	pool   *Pool
	events *EventBus
	dialer *net.Dialer

	// onEstablished is invoked once a race succeeds with the bare socket;
	// the protocol-init handoff (initiate_<proto>_link) lives outside this
	// package, supplied by whatever wires up jelp/ts6/etc.
	onEstablished func(name, protocol string, conn net.Conn)
	metrics       *metrics
}

func foldServer(name string) string { return strings.ToLower(name) }

// raceResult is the outcome of establishConnection's dial/timeout/cancel
// race: either a live conn, or an error (possibly context.Canceled).
type raceResult struct {
	conn net.Conn
	err  error
}

// connectFailReason decides whether a race outcome should be reported as
// connect_fail. A cancelled future (res.err wrapping context.Canceled) is
// not a failure and must not be reported.
func connectFailReason(res raceResult) (reason string, report bool) {
	if errors.Is(res.err, context.Canceled) {
		return "", false
	}
	if res.err == nil && res.conn != nil {
		return "", false
	}
	if res.err != nil {
		return res.err.Error(), true
	}
	return "canceled", true
}

// NewLinkage builds a Linkage over the given configured peers.
func NewLinkage(pool *Pool, events *EventBus, configs map[string]LinkConfig, onEstablished func(name, protocol string, conn net.Conn)) *Linkage {
	l := &Linkage{
		configs:       make(map[string]LinkConfig, len(configs)),
		timers:        make(map[string]*time.Timer),
		futures:       make(map[string]context.CancelFunc),
		conns:         make(map[string]*linkConn),
		pool:          pool,
		events:        events,
		dialer:        &net.Dialer{Timeout: 5 * time.Second},
		onEstablished: onEstablished,
		metrics:       globalMetrics,
	}
	for name, cfg := range configs {
		l.configs[foldServer(name)] = cfg
	}

	events.On(EventNewServer, func(payload EventPayload) bool {
		ev, ok := payload.(NewServerEvent)
		if ok {
			l.cancelConnection(ev.Name, true)
		}
		return false
	})
	events.On(EventConnectionDone, func(payload EventPayload) bool {
		ev, ok := payload.(ConnectionDoneEvent)
		if ok {
			l.onConnectionDone(ev.Name)
		}
		return false
	})

	return l
}

// NewServerEvent is fired when a server (local or remote) becomes known
// to the pool, by name.
type NewServerEvent struct{ Name string }

// ConnectionDoneEvent is fired when a linkConn closes or fails
// registration mid-flight, resolved to the target server name the
// connection was either initiated toward (want) or had already become
// (name).
type ConnectionDoneEvent struct {
	Name          string
	Reason        string
	DontReconnect bool
}

// ConnectFailEvent is fired when a connect attempt (or its race) fails.
type ConnectFailEvent struct {
	Name   string
	Reason string
}

// ConnectServer validates
// preconditions, then either dials once immediately (no timer configured)
// or arms a periodic timer whose first tick is immediate.
func (l *Linkage) ConnectServer(name string, autoOnly bool) error {
	key := foldServer(name)

	l.mu.Lock()
	if _, ok := l.pool.LookupServerName(name); ok {
		l.mu.Unlock()
		return fmt.Errorf("server %q is already linked", name)
	}
	if _, ok := l.timers[key]; ok {
		l.mu.Unlock()
		return fmt.Errorf("a connection attempt to %q is already pending (timer)", name)
	}
	if _, ok := l.futures[key]; ok {
		l.mu.Unlock()
		return fmt.Errorf("a connection attempt to %q is already pending (future)", name)
	}
	cfg, ok := l.configs[key]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("no connect.%s configuration block", name)
	}
	if autoOnly && !cfg.autoconnects() {
		l.mu.Unlock()
		return fmt.Errorf("server %q has no autoconnect timer or timeout configured", name)
	}
	l.mu.Unlock()

	if cfg.AutoTimer <= 0 {
		go l.establishConnection(key, cfg, 1)
		return nil
	}

	attempt := 0
	var tick func()
	tick = func() {
		attempt++
		go l.establishConnection(key, cfg, attempt)
		l.mu.Lock()
		l.timers[key] = time.AfterFunc(cfg.AutoTimer, tick)
		l.mu.Unlock()
	}
	l.mu.Lock()
	l.timers[key] = time.AfterFunc(0, tick)
	l.mu.Unlock()
	return nil
}

// establishConnection dials
// and races a timeout, the generalized analogue of girc's newConn
// (conn.go), which only ever dials the one configured upstream with the
// same "5 second net.Dialer timeout, TLS verification opt-in" shape.
func (l *Linkage) establishConnection(key string, cfg LinkConfig, attempt int) {
	l.metrics.linkAttempts.Inc()

	ctx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.futures[key] = cancel
	l.mu.Unlock()

	results := make(chan raceResult, 2)

	go func() {
		network := "tcp4"
		if strings.Contains(cfg.Address, ":") {
			network = "tcp6"
		}
		addr := net.JoinHostPort(cfg.Address, fmt.Sprintf("%d", cfg.Port))
		conn, err := l.dialer.DialContext(ctx, network, addr)
		if err == nil && cfg.TLS {
			tlsConf := cfg.TLSConfig
			if tlsConf == nil {
				tlsConf = &tls.Config{ServerName: cfg.Address, InsecureSkipVerify: true} //nolint:gosec
			}
			tlsConn := tls.Client(conn, tlsConf)
			if hsErr := tlsConn.HandshakeContext(ctx); hsErr != nil {
				conn.Close()
				conn, err = nil, hsErr
			} else {
				conn = tlsConn
			}
		}
		select {
		case results <- raceResult{conn, err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		}
	}()

	go func() {
		t := time.NewTimer(5 * time.Second)
		defer t.Stop()
		select {
		case <-t.C:
			select {
			case results <- raceResult{nil, fmt.Errorf("connection to %s timed out", cfg.Name)}:
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
	}()

	var res raceResult
	select {
	case res = <-results:
	case <-ctx.Done():
		res = raceResult{nil, ctx.Err()}
	}
	cancel()

	l.mu.Lock()
	delete(l.futures, key)
	l.mu.Unlock()

	if reason, report := connectFailReason(res); report {
		l.metrics.linkFailures.Inc()
		l.events.Fire(EventConnectFail, ConnectFailEvent{Name: cfg.Name, Reason: reason})
		return
	} else if res.conn == nil {
		// cancelled future: no connection and no failure to report.
		return
	}

	protocol := cfg.Protocol
	if protocol == "" {
		protocol = "jelp"
	}

	l.mu.Lock()
	l.conns[key] = &linkConn{name: cfg.Name, sock: res.conn, initiated: true, want: cfg.Name}
	l.mu.Unlock()

	if l.onEstablished != nil {
		l.onEstablished(cfg.Name, protocol, res.conn)
	}
}

// CancelConnection stops any
// timer, cancels any in-flight future, and optionally closes the live
// connection, reporting whether a pending attempt existed.
func (l *Linkage) CancelConnection(name string, keepConn bool) bool {
	key := foldServer(name)
	l.mu.Lock()
	defer l.mu.Unlock()

	hadPending := false

	if t, ok := l.timers[key]; ok {
		t.Stop()
		delete(l.timers, key)
		hadPending = true
	}
	if cancel, ok := l.futures[key]; ok {
		cancel()
		delete(l.futures, key)
		hadPending = true
	}
	if !keepConn {
		if c, ok := l.conns[key]; ok {
			c.dontReconnect = true
			c.Close("Connection canceled")
		}
	}
	return hadPending
}

func (l *Linkage) cancelConnection(name string, keepConn bool) { l.CancelConnection(name, keepConn) }

// onConnectionDone resumes
// autoconnect unless a retry timer is already covering this name or the
// connection was explicitly marked not to reconnect.
func (l *Linkage) onConnectionDone(name string) {
	key := foldServer(name)

	l.mu.Lock()
	_, hasTimer := l.timers[key]
	c, hasConn := l.conns[key]
	dontReconnect := hasConn && c.dontReconnect
	if hasConn {
		delete(l.conns, key)
	}
	l.mu.Unlock()

	if hasTimer {
		return // registration failed mid-flight; the timer will retry on its own schedule
	}
	if dontReconnect {
		return
	}
	_ = l.ConnectServer(name, true)
}
