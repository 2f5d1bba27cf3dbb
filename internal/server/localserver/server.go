package localserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Server serves an http.Handler on a unix domain socket.
type Server struct {
	path     string
	handler  http.Handler
	httpSrv  *http.Server
	listener net.Listener
}

// New creates a local server that will listen on the given socket path.
// The handler is typically the same router the TCP server uses, built
// without an admin gate since socket permissions already restrict access.
func New(path string, handler http.Handler) *Server {
	return &Server{
		path:    path,
		handler: handler,
		httpSrv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      2 * time.Minute,
		},
	}
}

// ListenAndServe binds the socket and serves until Shutdown is called.
// A stale socket file from a previous run is removed before binding.
func (s *Server) ListenAndServe() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create socket directory %s: %w", dir, err)
	}

	// Remove a leftover socket so rebinding after a crash works. If the
	// path exists but is not a socket, refuse to clobber it.
	if info, err := os.Stat(s.path); err == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return fmt.Errorf("socket path %s exists and is not a socket", s.path)
		}
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("remove stale socket %s: %w", s.path, err)
		}
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on unix socket %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o660); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket %s: %w", s.path, err)
	}
	s.listener = ln

	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// Path returns the socket path the server binds.
func (s *Server) Path() string {
	return s.path
}
