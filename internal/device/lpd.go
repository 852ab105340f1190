package device

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

func init() {
	Register("lpd", openLPD)
}

var lpdJobSeq atomic.Uint32

// lpdDevice speaks the RFC 1179 receive-job protocol. The protocol
// needs the data length up front, so writes are buffered and the job
// is submitted on Close.
type lpdDevice struct {
	uri   string
	addr  string
	queue string
	log   LogFunc
	buf   bytes.Buffer
}

func openLPD(u *url.URL, log LogFunc) (Device, error) {
	host := u.Host
	if host == "" {
		return nil, fmt.Errorf("lpd device %q: missing host", u.String())
	}
	if !strings.Contains(host, ":") {
		host = net.JoinHostPort(host, "515")
	}
	queue := strings.TrimPrefix(u.Path, "/")
	if queue == "" {
		queue = "lp"
	}
	d := &lpdDevice{uri: u.String(), addr: host, queue: queue, log: log}
	if log != nil {
		log("spooling for LPD queue %q at %s", queue, host)
	}
	return d, nil
}

func (d *lpdDevice) URI() string { return d.uri }

func (d *lpdDevice) Write(p []byte) (int, error) {
	return d.buf.Write(p)
}

func (d *lpdDevice) Close() error {
	if d.buf.Len() == 0 {
		return nil
	}
	conn, err := net.DialTimeout("tcp", d.addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("lpd device %q: %w", d.uri, err)
	}
	defer conn.Close()
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	if err := d.command(rw, fmt.Sprintf("\x02%s\n", d.queue)); err != nil {
		return err
	}

	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	seq := int(lpdJobSeq.Add(1) % 1000)
	cfName := fmt.Sprintf("cfA%03d%s", seq, host)
	dfName := fmt.Sprintf("dfA%03d%s", seq, host)

	control := strings.Join([]string{
		"H" + host,
		"Panonymous",
		"JPrint job",
		"N" + dfName,
		"U" + dfName,
		"l" + dfName,
	}, "\n") + "\n"

	if err := d.sendFile(rw, fmt.Sprintf("\x02%d %s\n", len(control), cfName),
		[]byte(control)); err != nil {
		return err
	}
	if err := d.sendFile(rw, fmt.Sprintf("\x03%d %s\n", d.buf.Len(), dfName),
		d.buf.Bytes()); err != nil {
		return err
	}
	d.buf.Reset()
	return nil
}

func (d *lpdDevice) command(rw *bufio.ReadWriter, cmd string) error {
	if _, err := rw.WriteString(cmd); err != nil {
		return err
	}
	if err := rw.Flush(); err != nil {
		return err
	}
	return d.ack(rw)
}

func (d *lpdDevice) sendFile(rw *bufio.ReadWriter, header string, data []byte) error {
	if err := d.command(rw, header); err != nil {
		return err
	}
	if _, err := rw.Write(data); err != nil {
		return err
	}
	if _, err := rw.Write([]byte{0x00}); err != nil {
		return err
	}
	if err := rw.Flush(); err != nil {
		return err
	}
	return d.ack(rw)
}

func (d *lpdDevice) ack(rw *bufio.ReadWriter) error {
	b, err := rw.ReadByte()
	if err != nil {
		return fmt.Errorf("lpd device %q: %w", d.uri, err)
	}
	if b != 0 {
		return fmt.Errorf("lpd device %q: server error %d", d.uri, b)
	}
	return nil
}
