// Package server implements the HTTP/IPP request engine: the
// per-connection state machine, IPP message validation, operation
// routing and response building.
package server

import (
	"crypto/tls"
	"errors"
	"net"

	"ippserv/internal/auth"
	"ippserv/internal/config"
	"ippserv/internal/logging"
	"ippserv/internal/resource"
	"ippserv/internal/system"
)

type Server struct {
	Config    config.Config
	System    *system.System
	Resources *resource.Registry
	Auth      *auth.Authorizer

	// TLSConfig enables the first-byte TLS auto-detect and the
	// Upgrade handshake; nil disables TLS entirely.
	TLSConfig *tls.Config
}

// Serve accepts connections until the listener closes, one goroutine
// per connection.
func (s *Server) Serve(ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logging.Errorf("accept failed: %v", err)
			continue
		}
		go s.serveConn(nc)
	}
}
