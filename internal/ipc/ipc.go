// Package ipc provides the Unix domain socket interface of fips-installer.
//
// Local processes connect to the socket and send newline-terminated JSON
// requests. Each request gets one newline-terminated JSON response; the
// connection stays open for further requests.
//
// Methods, grouped like the com.intel.fips D-Bus object they replace:
//
//	status.get      {"enabled": bool, "version": string}
//	providers.list  {"available_providers": [string]}
//	mode.enable     params {"version": string}, result {"success": bool}
//	mode.disable    result {"success": bool}
//	history.list    params {"limit": int}, result [entry]
//	status.watch    one status response now and one per change; takes over
//	                the connection until the client disconnects
//	ping            {"status": "ok", "version": string}
//
// Request:  {"method": "mode.enable", "id": 1, "params": {"version": "3.0.9"}}
// Response: {"id": 1, "result": {"success": false, "class": "validation"}, "error": "..."}
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/cloudflared-fips/fips-installer/internal/history"
	"github.com/cloudflared-fips/fips-installer/internal/mode"
	"github.com/cloudflared-fips/fips-installer/pkg/buildinfo"
)

// DefaultSocketPath is the default Unix socket path.
const DefaultSocketPath = "/var/run/fips-installer/fips.sock"

// ObjectPath is the D-Bus object path the original interface was published at.
const ObjectPath = "/com/intel/fips"

// Method names.
const (
	MethodStatus    = "status.get"
	MethodProviders = "providers.list"
	MethodEnable    = "mode.enable"
	MethodDisable   = "mode.disable"
	MethodHistory   = "history.list"
	MethodWatch     = "status.watch"
	MethodPing      = "ping"
)

// maxMessage bounds a single request line.
const maxMessage = 64 * 1024

// Request represents a JSON-RPC style request.
type Request struct {
	Method string          `json:"method"`
	ID     int             `json:"id"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC style response.
type Response struct {
	ID     int         `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *string     `json:"error"`
}

// EnableParams are the params of mode.enable.
type EnableParams struct {
	Version string `json:"version"`
}

// HistoryParams are the params of history.list.
type HistoryParams struct {
	Limit int `json:"limit"`
}

// ModeResult is the result of mode.enable and mode.disable.
type ModeResult struct {
	Success bool   `json:"success"`
	Class   string `json:"class,omitempty"`
}

// ProvidersResult is the result of providers.list.
type ProvidersResult struct {
	AvailableProviders []string `json:"available_providers"`
}

// PingResult is the result of ping.
type PingResult struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	ObjectPath string `json:"object_path"`
}

// Controller is the mode controller as seen by the IPC layer.
type Controller interface {
	Status() mode.Status
	Providers() []string
	Enable(ctx context.Context, profile string) error
	Disable(ctx context.Context) error
	Subscribe() (<-chan mode.Status, func())
}

// HistoryLister lists journal entries. Optional.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Server is the IPC Unix socket server.
type Server struct {
	socketPath string
	ctrl       Controller
	history    HistoryLister
	logger     *log.Logger
	listener   net.Listener
	mu         sync.Mutex
	clients    map[net.Conn]struct{}
}

// NewServer creates a new IPC server. hist may be nil.
func NewServer(socketPath string, ctrl Controller, hist HistoryLister, logger *log.Logger) *Server {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		socketPath: socketPath,
		ctrl:       ctrl,
		history:    hist,
		logger:     logger,
		clients:    make(map[net.Conn]struct{}),
	}
}

// Start begins listening on the Unix socket. Blocks until ctx is cancelled.
// Transitions started by clients run under ctx, so cancelling it also
// aborts an enable waiting for the module artifact.
func (s *Server) Start(ctx context.Context) error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	// Remove stale socket file
	os.Remove(s.socketPath)

	var err error
	s.listener, err = net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}

	// Owner + group only: mode changes are privileged.
	os.Chmod(s.socketPath, 0660)

	go func() {
		<-ctx.Done()
		s.listener.Close()
		s.mu.Lock()
		for conn := range s.clients {
			conn.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		s.mu.Lock()
		s.clients[conn] = struct{}{}
		s.mu.Unlock()

		go s.handleConn(ctx, conn)
	}
}

// SocketPath returns the configured socket path.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// ActiveConnections returns the number of active client connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, maxMessage), maxMessage)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			errMsg := fmt.Sprintf("invalid request: %v", err)
			writeResponse(conn, Response{Error: &errMsg})
			continue
		}

		if req.Method == MethodWatch {
			s.watch(ctx, conn, req.ID)
			return
		}

		if err := writeResponse(conn, s.dispatch(ctx, req)); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID}

	switch req.Method {
	case MethodStatus:
		resp.Result = s.ctrl.Status()

	case MethodProviders:
		resp.Result = ProvidersResult{AvailableProviders: s.ctrl.Providers()}

	case MethodEnable:
		var p EnableParams
		if err := decodeParams(req.Params, &p); err != nil {
			resp.Error = errString(err)
			return resp
		}
		s.logger.Printf("ipc: EnableFips(%q)", p.Version)
		err := s.ctrl.Enable(ctx, p.Version)
		resp.Result = ModeResult{Success: err == nil, Class: mode.Classify(err)}
		if err != nil {
			resp.Error = errString(err)
		}

	case MethodDisable:
		s.logger.Printf("ipc: DisableFips()")
		err := s.ctrl.Disable(ctx)
		resp.Result = ModeResult{Success: err == nil, Class: mode.Classify(err)}
		if err != nil {
			resp.Error = errString(err)
		}

	case MethodHistory:
		if s.history == nil {
			resp.Error = errString(fmt.Errorf("history journal disabled"))
			return resp
		}
		var p HistoryParams
		if err := decodeParams(req.Params, &p); err != nil {
			resp.Error = errString(err)
			return resp
		}
		entries, err := s.history.List(ctx, p.Limit)
		if err != nil {
			resp.Error = errString(err)
			return resp
		}
		if entries == nil {
			entries = []history.Entry{}
		}
		resp.Result = entries

	case MethodPing:
		resp.Result = PingResult{
			Status:     "ok",
			Version:    buildinfo.Version,
			ObjectPath: ObjectPath,
		}

	default:
		resp.Error = errString(fmt.Errorf("unknown method: %s", req.Method))
	}

	return resp
}

// watch streams status changes to conn until the client goes away or ctx
// is cancelled.
func (s *Server) watch(ctx context.Context, conn net.Conn, id int) {
	updates, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	// Detect client hang-up: nothing more is read on a watch connection.
	gone := make(chan struct{})
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				close(gone)
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := writeResponse(conn, Response{ID: id, Result: st}); err != nil {
				return
			}
		}
	}
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func errString(err error) *string {
	msg := err.Error()
	return &msg
}

func writeResponse(conn net.Conn, resp Response) error {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, err := conn.Write(data)
	return err
}
