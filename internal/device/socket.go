package device

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// AppSocket (JetDirect) transport, TCP port 9100 by default.

const socketDialTimeout = 5 * time.Second

func init() {
	Register("socket", openSocket)
}

type socketDevice struct {
	uri  string
	conn net.Conn
}

func openSocket(u *url.URL, log LogFunc) (Device, error) {
	host := u.Host
	if host == "" {
		return nil, fmt.Errorf("invalid socket uri %q", u.String())
	}
	if !strings.Contains(host, ":") {
		host = net.JoinHostPort(host, "9100")
	}
	conn, err := net.DialTimeout("tcp", host, socketDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("socket device %s: %w", host, err)
	}
	log("connected to %s", host)
	return &socketDevice{uri: u.String(), conn: conn}, nil
}

func (d *socketDevice) Write(p []byte) (int, error) { return d.conn.Write(p) }
func (d *socketDevice) Close() error                { return d.conn.Close() }
func (d *socketDevice) URI() string                 { return d.uri }
