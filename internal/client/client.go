// Package client is a small IPP client for driving an ippserv
// instance, used by the ippctl command.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/OpenPrinting/goipp"
)

type Client struct {
	Host     string
	Port     int
	UseTLS   bool
	User     string
	Password string

	// Insecure skips certificate verification, for servers running
	// with a self-signed certificate.
	Insecure bool
}

// NewFromEnv builds a client from IPPSERV_SERVER ("host", "host:port"
// or "ipps://host:port") plus IPPSERV_USER and IPPSERV_PASSWORD.
func NewFromEnv() *Client {
	c := &Client{
		Host:     "localhost",
		Port:     631,
		User:     os.Getenv("IPPSERV_USER"),
		Password: os.Getenv("IPPSERV_PASSWORD"),
		Insecure: os.Getenv("IPPSERV_INSECURE") == "1",
	}
	server := strings.TrimSpace(os.Getenv("IPPSERV_SERVER"))
	if server == "" {
		return c
	}
	if u, err := url.Parse(server); err == nil && u.Host != "" {
		c.UseTLS = u.Scheme == "ipps" || u.Scheme == "https"
		server = u.Host
	}
	if host, portStr, err := net.SplitHostPort(server); err == nil {
		c.Host = host
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			c.Port = port
		}
	} else {
		c.Host = server
	}
	return c
}

// PrinterURI forms the printer-uri value for a queue name.
func (c *Client) PrinterURI(name string) string {
	scheme := "ipp"
	if c.UseTLS {
		scheme = "ipps"
	}
	return fmt.Sprintf("%s://%s/printers/%s",
		scheme, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		url.PathEscape(name))
}

// SystemURI forms the system-uri value for system operations.
func (c *Client) SystemURI() string {
	scheme := "ipp"
	if c.UseTLS {
		scheme = "ipps"
	}
	return fmt.Sprintf("%s://%s/ipp/system",
		scheme, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)))
}

// Send posts the message, with an optional trailing document, to the
// resource path named by the request's target URI and decodes the
// response.
func (c *Client) Send(ctx context.Context, msg *goipp.Message, doc io.Reader) (*goipp.Message, error) {
	if msg == nil {
		return nil, errors.New("missing IPP message")
	}
	payload, err := msg.EncodeBytes()
	if err != nil {
		return nil, err
	}
	body := io.Reader(bytes.NewReader(payload))
	if doc != nil {
		body = io.MultiReader(body, doc)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.httpURL(resourcePath(msg)), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", goipp.ContentType)
	req.Header.Set("Accept", goipp.ContentType)
	if c.User != "" {
		req.SetBasicAuth(c.User, c.Password)
	}

	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: c.Insecure},
		},
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, errors.New(resp.Status)
	}
	out := &goipp.Message{}
	if err := out.Decode(resp.Body); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) httpURL(path string) string {
	scheme := "http"
	if c.UseTLS {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) + path
}

// resourcePath extracts the HTTP resource to POST to from the
// request's target URI attribute.
func resourcePath(msg *goipp.Message) string {
	for _, attr := range msg.Operation {
		switch attr.Name {
		case "printer-uri", "job-uri", "system-uri":
			if len(attr.Values) == 0 {
				continue
			}
			if u, err := url.Parse(attr.Values[0].V.String()); err == nil &&
				u.Path != "" {
				return u.Path
			}
		}
	}
	return "/"
}

// AttrString pulls the first value of a named attribute out of a
// group, or "" when absent.
func AttrString(attrs goipp.Attributes, name string) string {
	for _, attr := range attrs {
		if attr.Name == name && len(attr.Values) > 0 {
			return attr.Values[0].V.String()
		}
	}
	return ""
}

// AttrInt pulls the first integer value of a named attribute.
func AttrInt(attrs goipp.Attributes, name string) (int, bool) {
	for _, attr := range attrs {
		if attr.Name == name && len(attr.Values) > 0 {
			if v, ok := attr.Values[0].V.(goipp.Integer); ok {
				return int(v), true
			}
		}
	}
	return 0, false
}
