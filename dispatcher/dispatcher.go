// Package dispatcher implements the inbound event listener: a single
// accept loop binding the first free port starting at a default, handing
// every accepted connection to a short-lived handler goroutine that reads
// one framed message, routes it by tag, and writes at most one response
// before closing.
package dispatcher

import (
	"bufio"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/powmesh/node/chainmodel"
	"github.com/powmesh/node/internal/logging"
	"github.com/powmesh/node/rpc"
	"github.com/powmesh/node/wire"
)

var log = logging.New("dispatcher")

// AcceptTimeout bounds how long a single Accept call blocks before the
// loop re-checks for shutdown, standing in for a polled listener-timeout
// wakeup (Go's net.Listener has no direct accept timeout, so SetDeadline
// before each Accept plays that role).
const AcceptTimeout = 10 * time.Second

// Handlers holds one callback per message tag. A nil callback means the
// tag is unsupported; unknown tags are logged and draw no response.
type Handlers struct {
	Node            func(peer chainmodel.PeerAddr) (chainmodel.PeerAddr, error)
	Network         func(peer chainmodel.PeerAddr) ([]chainmodel.PeerAddr, chainmodel.PeerAddr, error)
	Disconnect      func(peer chainmodel.PeerAddr) (chainmodel.PeerAddr, error)
	Transaction     func(receipt chainmodel.Receipt) (chainmodel.PeerAddr, error)
	GetTransactions func(peer chainmodel.PeerAddr) (bool, error)
	NewBlock        func(pkg chainmodel.Package) (bool, error)
	IndexedBlock    func(index int64) (chainmodel.Package, bool)
	Status          func(peer chainmodel.PeerAddr, status rpc.PeerStatus) (chainmodel.PeerAddr, rpc.PeerStatus, error)
	HashMatch       func(hashlist []string) (int, error)
}

// Listener owns the accept loop and its handler goroutines.
type Listener struct {
	ln       net.Listener
	port     int
	handlers Handlers
}

// Bind opens a TCP listener at the first free port starting at
// startPort, incrementing on EADDRINUSE. The bound port is read back from
// the listener's own address rather than assumed, so startPort 0 (OS
// picks any free port) reports the port actually assigned.
func Bind(host string, startPort int, handlers Handlers) (*Listener, error) {
	port := startPort
	for {
		ln, err := net.Listen("tcp", hostPort(host, port))
		if err == nil {
			bound := ln.Addr().(*net.TCPAddr).Port
			log.Info("listener bound", "port", bound)
			return &Listener{ln: ln, port: bound, handlers: handlers}, nil
		}
		if !strings.Contains(err.Error(), "address already in use") {
			return nil, err
		}
		port++
	}
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Port returns the port actually bound.
func (l *Listener) Port() int { return l.port }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve runs the accept loop until done is closed or Close is called. Every accepted connection is handled in its own goroutine
// tracked by group, so StopListener can wait for in-flight handlers to
// drain before returning.
func (l *Listener) Serve(group *errgroup.Group, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		if tc, ok := l.ln.(*net.TCPListener); ok {
			tc.SetDeadline(time.Now().Add(AcceptTimeout))
		}

		conn, err := l.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-done:
				return
			default:
				log.Warn("accept failed", "err", err)
				return
			}
		}

		group.Go(func() error {
			l.handle(conn)
			return nil
		})
	}
}

func (l *Listener) handle(conn net.Conn) {
	defer conn.Close()
	id := uuid.New().String()
	clog := log.With(id)

	env, err := wire.Read(bufio.NewReader(conn))
	if err != nil {
		clog.Warn("read failed", "err", err)
		return
	}

	clog.Debug("dispatching", "tag", env.Tag)
	switch env.Tag {
	case "node":
		l.handleNode(conn, env, clog)
	case "network":
		l.handleNetwork(conn, env, clog)
	case "disconnect":
		l.handleDisconnect(conn, env, clog)
	case "transaction":
		l.handleTransaction(conn, env, clog)
	case "get transactions":
		l.handleGetTransactions(conn, env, clog)
	case "new block":
		l.handleNewBlock(conn, env, clog)
	case "indexed block":
		l.handleIndexedBlock(conn, env, clog)
	case "status":
		l.handleStatus(conn, env, clog)
	case "hashmatch":
		l.handleHashMatch(conn, env, clog)
	default:
		clog.Warn("unknown tag", "tag", env.Tag)
	}
}

func (l *Listener) handleNode(conn net.Conn, env wire.Envelope, clog *logging.Logger) {
	if l.handlers.Node == nil {
		return
	}
	peer, err := decodePeer(env)
	if err != nil {
		clog.Warn("malformed node payload", "err", err)
		return
	}
	self, err := l.handlers.Node(peer)
	if err != nil {
		clog.Warn("node handler failed", "err", err)
		return
	}
	wire.Write(conn, "confirm", self.ToList())
}

func (l *Listener) handleNetwork(conn net.Conn, env wire.Envelope, clog *logging.Logger) {
	if l.handlers.Network == nil {
		return
	}
	peer, err := decodePeer(env)
	if err != nil {
		clog.Warn("malformed network payload", "err", err)
		return
	}
	knownPeers, self, err := l.handlers.Network(peer)
	if err != nil {
		clog.Warn("network handler failed", "err", err)
		return
	}
	lists := make([][]interface{}, len(knownPeers))
	for i, p := range knownPeers {
		lists[i] = p.ToList()
	}
	if err := wire.Write(conn, "node list", lists); err != nil {
		return
	}
	wire.Write(conn, "confirm", self.ToList())
}

func (l *Listener) handleDisconnect(conn net.Conn, env wire.Envelope, clog *logging.Logger) {
	if l.handlers.Disconnect == nil {
		return
	}
	peer, err := decodePeer(env)
	if err != nil {
		clog.Warn("malformed disconnect payload", "err", err)
		return
	}
	self, err := l.handlers.Disconnect(peer)
	if err != nil {
		clog.Warn("disconnect handler failed", "err", err)
		return
	}
	wire.Write(conn, "confirm", self.ToList())
}

func (l *Listener) handleTransaction(conn net.Conn, env wire.Envelope, clog *logging.Logger) {
	if l.handlers.Transaction == nil {
		return
	}
	var receipt chainmodel.Receipt
	if err := env.Decode(&receipt); err != nil {
		clog.Warn("malformed transaction payload", "err", err)
		return
	}
	self, err := l.handlers.Transaction(receipt)
	if err != nil {
		clog.Warn("transaction handler failed", "err", err)
		return
	}
	wire.Write(conn, "confirm", self.ToList())
}

func (l *Listener) handleGetTransactions(conn net.Conn, env wire.Envelope, clog *logging.Logger) {
	if l.handlers.GetTransactions == nil {
		return
	}
	peer, err := decodePeer(env)
	if err != nil {
		clog.Warn("malformed get-transactions payload", "err", err)
		return
	}
	ok, err := l.handlers.GetTransactions(peer)
	if err != nil {
		clog.Warn("get-transactions handler failed", "err", err)
		return
	}
	wire.Write(conn, "confirm", ok)
}

func (l *Listener) handleNewBlock(conn net.Conn, env wire.Envelope, clog *logging.Logger) {
	if l.handlers.NewBlock == nil {
		return
	}
	var pkg chainmodel.Package
	if err := env.Decode(&pkg); err != nil {
		clog.Warn("malformed new-block payload", "err", err)
		return
	}
	accepted, err := l.handlers.NewBlock(pkg)
	if err != nil {
		clog.Warn("new-block handler failed", "err", err)
		return
	}
	wire.Write(conn, "confirm", accepted)
}

func (l *Listener) handleIndexedBlock(conn net.Conn, env wire.Envelope, clog *logging.Logger) {
	if l.handlers.IndexedBlock == nil {
		return
	}
	var index int64
	if err := env.Decode(&index); err != nil {
		clog.Warn("malformed indexed-block payload", "err", err)
		return
	}
	pkg, ok := l.handlers.IndexedBlock(index)
	if !ok {
		wire.Write(conn, "index error", map[string]interface{}{})
		return
	}
	wire.Write(conn, "indexed block", pkg)
}

func (l *Listener) handleStatus(conn net.Conn, env wire.Envelope, clog *logging.Logger) {
	if l.handlers.Status == nil {
		return
	}
	var payload [2]json.RawMessage
	if err := env.Decode(&payload); err != nil {
		clog.Warn("malformed status payload", "err", err)
		return
	}
	var peer chainmodel.PeerAddr
	if err := json.Unmarshal(payload[0], &peer); err != nil {
		clog.Warn("malformed status peer address", "err", err)
		return
	}
	var status rpc.PeerStatus
	if err := json.Unmarshal(payload[1], &status); err != nil {
		clog.Warn("malformed status body", "err", err)
		return
	}

	self, selfStatus, err := l.handlers.Status(peer, status)
	if err != nil {
		clog.Warn("status handler failed", "err", err)
		return
	}
	wire.Write(conn, "status", []interface{}{self.ToList(), selfStatus})
}

func (l *Listener) handleHashMatch(conn net.Conn, env wire.Envelope, clog *logging.Logger) {
	if l.handlers.HashMatch == nil {
		return
	}
	var hashlist []string
	if err := env.Decode(&hashlist); err != nil {
		clog.Warn("malformed hashmatch payload", "err", err)
		return
	}
	matchIndex, err := l.handlers.HashMatch(hashlist)
	if err != nil {
		clog.Warn("hashmatch handler failed", "err", err)
		return
	}
	wire.Write(conn, "match index", matchIndex)
}

func decodePeer(env wire.Envelope) (chainmodel.PeerAddr, error) {
	var peer chainmodel.PeerAddr
	err := env.Decode(&peer)
	return peer, err
}
