// Package rpcserver accepts connections on the control socket, runs the
// chunk-framing connection state machine, and dispatches the twelve
// RPC commands to the supervisor engine.
package rpcserver

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kil/ubervisor/internal/notify"
	"github.com/kil/ubervisor/internal/persist"
	"github.com/kil/ubervisor/internal/supervisor"
	"github.com/kil/ubervisor/internal/wire"
)

// Server owns the listening socket and startup-time options that the
// command handlers consult (-a autodump, -n disallow-exit).
type Server struct {
	Engine    *supervisor.Engine
	Bus       *notify.Bus
	Log       *logrus.Logger
	Dumper    *persist.Writer
	AutoDump  bool
	AllowExit bool

	mu         sync.Mutex
	listener   net.Listener
	socketPath string
	generation uint64
	onExit     func()
}

func New(engine *supervisor.Engine, bus *notify.Bus, log *logrus.Logger, dumper *persist.Writer, onExit func()) *Server {
	return &Server{
		Engine: engine,
		Bus:    bus,
		Log:    log,
		Dumper: dumper,
		onExit: onExit,
	}
}

// Serve binds socketPath and accepts connections until the listener is
// closed and not superseded by Rebind. Each connection gets its own
// goroutine; all catalog access from handlers goes through Engine.Exec,
// so connections never race each other over shared state.
func (s *Server) Serve(socketPath string) error {
	l, gen, err := s.bind(socketPath)
	if err != nil {
		return err
	}
	return s.acceptLoop(l, gen)
}

// bind removes a stale leftover socket file (if any) and listens afresh
// at path, recording the new listener as the server's current
// generation. Each successful bind bumps the generation counter so
// acceptLoop can tell a listener replaced by Rebind apart from one that
// failed for a real reason.
func (s *Server) bind(path string) (net.Listener, uint64, error) {
	_ = removeStaleSocket(path)

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	s.listener = l
	s.socketPath = path
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	return l, gen, nil
}

// acceptLoop accepts connections on l until it errors. An Accept error
// on a listener that is no longer the server's current one (because
// Rebind swapped in a fresh listener) is expected — that generation's
// loop exits quietly and leaves the new generation's loop, already
// running, as the only acceptor.
func (s *Server) acceptLoop(l net.Listener, gen uint64) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			superseded := gen != s.generation
			s.mu.Unlock()
			if superseded {
				return nil
			}
			return err
		}
		go s.handle(conn)
	}
}

// Rebind closes the current listener and binds a fresh one at the same
// path, starting a new accept loop for it. It is the watcher's response
// to the listening socket file disappearing out from under a running
// server (an operator `rm`, a tmp cleaner): rather than the server
// going silently deaf, it re-creates the listener and keeps serving.
func (s *Server) Rebind() error {
	s.mu.Lock()
	old := s.listener
	path := s.socketPath
	s.mu.Unlock()

	l, gen, err := s.bind(path)
	if err != nil {
		return err
	}
	if old != nil {
		// The new listener already owns the path; closing the old one
		// must not unlink it.
		if ul, ok := old.(*net.UnixListener); ok {
			ul.SetUnlinkOnClose(false)
		}
		old.Close()
	}
	go func() {
		if err := s.acceptLoop(l, gen); err != nil {
			s.Log.WithError(err).Error("accept loop exited after socket rebind")
		}
	}()
	return nil
}

func (s *Server) Close() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		return l.Close()
	}
	return nil
}

func (s *Server) handle(netConn net.Conn) {
	defer netConn.Close()

	c := &Connection{
		server: s,
		wc:     wire.NewConn(netConn),
	}
	defer s.Bus.Unsubscribe(c)

	for {
		cid, payload, err := c.wc.ReadFrame()
		if err != nil {
			return
		}
		if len(payload) < 4 {
			return // illegal: too short to hold a command mnemonic
		}
		cmd := string(payload[:4])
		body := payload[4:]

		handler, ok := dispatch[cmd]
		if !ok {
			return // unknown command: drop the connection
		}
		if !handler(c, cid, body) {
			return
		}
	}
}

// Connection is one client's framing state plus a serialized writer,
// since both replies and notifications (from the subscription bus) can
// write to the same socket from different goroutines.
type Connection struct {
	server *Server
	wc     *wire.Conn
	mu     sync.Mutex
}

// SendNotification implements notify.Sender.
func (c *Connection) SendNotification(cid uint16, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wc.WriteFrame(cid, payload)
}

