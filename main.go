package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ippserv/internal/auth"
	"ippserv/internal/config"
	"ippserv/internal/dnssd"
	"ippserv/internal/logging"
	"ippserv/internal/resource"
	"ippserv/internal/server"
	"ippserv/internal/store"
	"ippserv/internal/system"
	"ippserv/internal/tlsutil"
)

func main() {
	cfg := config.Load()
	logging.Configure(cfg.ErrorLogPath, cfg.AccessLogPath, cfg.MaxLogSize, cfg.LogLevel)
	log.SetOutput(logging.ErrorWriter())

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.HistoryDBPath), 0755); err != nil {
		log.Fatalf("failed to create db dir: %v", err)
	}
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		log.Fatalf("failed to create state dir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostname, _ := os.Hostname()
	sys := system.New(cfg.ServerName, hostname)
	sys.SetDefaultMaxActiveJobs(cfg.MaxActiveJobs)
	sys.SetDefaultMaxJobs(cfg.MaxJobsPerQueue)

	st, err := store.Open(ctx, cfg.HistoryDBPath)
	if err != nil {
		log.Fatalf("failed to open job history db: %v", err)
	}
	defer st.Close()
	sys.SetHistory(st)
	go st.PurgeLoop(ctx, cfg.JobRetention, time.Hour, logging.Errorf)

	events := system.NewEventQueue(256)
	sys.AddEventSink(events)
	go func() {
		for ev := range events.Chan() {
			logging.Debugf("event %s printer=%q job=%d: %s",
				ev.Kind, ev.Printer, ev.JobID, ev.Message)
		}
	}()

	authz := auth.New()
	if cfg.AdminUser != "" && cfg.AdminPassword != "" {
		if err := authz.AddUser(cfg.AdminUser, cfg.AdminPassword, true); err != nil {
			log.Fatalf("failed to add admin user: %v", err)
		}
	}

	if cfg.DefaultDeviceURI != "" {
		if _, err := sys.CreatePrinter("default", "/printers/default",
			cfg.DefaultDeviceURI); err != nil {
			log.Fatalf("failed to create default printer: %v", err)
		}
	}

	resources := resource.NewRegistry()
	resources.AddCallback("/status", func(method string, body []byte) (int, string, []byte) {
		return statusPage(sys)
	})

	var tlsConfig *tls.Config
	if cfg.TLSEnabled {
		hosts := certHosts(cfg, hostname)
		cert, err := tlsutil.EnsureCertificate(cfg.TLSCertPath, cfg.TLSKeyPath,
			hosts, cfg.TLSAutoGenerate)
		if err != nil {
			log.Fatalf("failed to load TLS certificate: %v", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	monitor := system.NewStatusMonitor(sys, cfg.SNMPCommunity, time.Minute)
	go monitor.Run(ctx)

	if cfg.DNSSDEnabled {
		adv, err := dnssd.Start(ctx, sys, cfg.DNSSDHostName,
			listenPort(cfg.ListenAddr), cfg.TLSEnabled)
		if err != nil {
			log.Printf("warning: DNS-SD advertising unavailable: %v", err)
		} else {
			sys.AddEventSink(adv)
			defer adv.Close()
		}
	}

	srv := &server.Server{
		Config:    cfg,
		System:    sys,
		Resources: resources,
		Auth:      authz,
		TLSConfig: tlsConfig,
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("listen error on %s: %v", cfg.ListenAddr, err)
	}
	go func() {
		logging.Infof("ippserv listening on %s", cfg.ListenAddr)
		if err := srv.Serve(ln); err != nil {
			log.Fatalf("serve error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs

	logging.Infof("shutting down")
	sys.Shutdown()
	_ = ln.Close()
	cancel()
}

// statusPage reports the live queue state as JSON.
func statusPage(sys *system.System) (int, string, []byte) {
	type jobView struct {
		ID    int    `json:"id"`
		Name  string `json:"name"`
		State string `json:"state"`
	}
	type printerView struct {
		Name      string    `json:"name"`
		State     string    `json:"state"`
		Accepting bool      `json:"accepting"`
		Jobs      []jobView `json:"jobs"`
	}
	var out []printerView
	for _, p := range sys.Printers() {
		pv := printerView{
			Name:      p.Name(),
			State:     p.State().String(),
			Accepting: p.Accepting(),
		}
		for _, j := range p.Jobs() {
			pv.Jobs = append(pv.Jobs, jobView{
				ID: j.ID(), Name: j.Name(), State: j.State().String(),
			})
		}
		out = append(out, pv)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return http.StatusInternalServerError, "text/plain", []byte(err.Error())
	}
	return http.StatusOK, "application/json", data
}

// certHosts collects the names a self-signed certificate must cover,
// including the ".local" variants mDNS clients will use.
func certHosts(cfg config.Config, hostname string) []string {
	hosts := append([]string{"localhost", cfg.ServerName, hostname},
		cfg.ServerAlias...)
	if cfg.ServerName != "" && !strings.Contains(cfg.ServerName, ".") {
		hosts = append(hosts, cfg.ServerName+".local")
	}
	if hostname != "" && !strings.Contains(hostname, ".") {
		hosts = append(hosts, hostname+".local")
	}
	if cfg.DNSSDHostName != "" {
		hosts = append(hosts, strings.TrimSuffix(cfg.DNSSDHostName, "."))
	}

	seen := map[string]bool{}
	out := hosts[:0]
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return 631
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return 631
	}
	return port
}
