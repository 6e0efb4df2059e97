// ABOUTME: Exposes the operator API on a tailnet through an embedded tsnet node
// ABOUTME: Resolves node state and auth key from config and picks the tailnet listener

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/mission-control/internal/config"
)

// tsnetStateFile is where tsnet keeps the node key inside its state dir.
const tsnetStateFile = "tailscaled.state"

// errNoTailnetCredentials means the node has neither an auth key nor stored state.
var errNoTailnetCredentials = fmt.Errorf(
	"tailscale auth key required for first login: set tailscale.auth_key or %s", config.EnvTailscaleAuthKey)

// tailnetListener is how the API is exposed on the tailnet.
type tailnetListener struct {
	addr    string
	funnel  bool // public internet via Funnel; tsnet terminates TLS
	wrapTLS bool // tailnet-only HTTPS with certs from the local client
}

func planTailnetListener(ts config.TailscaleConfig) tailnetListener {
	secure := ts.HTTPS || ts.Funnel
	port := ts.Port
	if port == 0 {
		port = 80
		if secure {
			port = 443
		}
	}
	return tailnetListener{
		addr:    ":" + strconv.Itoa(port),
		funnel:  ts.Funnel,
		wrapTLS: secure && !ts.Funnel,
	}
}

// resolveTailscaleStateDir picks where the node keeps its identity: tailscale.state_dir,
// else next to the SQLite database, else under the user's data dir.
func resolveTailscaleStateDir(cfg *config.Config, homeDir func() (string, error)) (string, error) {
	if cfg.Tailscale.StateDir != "" {
		return cfg.Tailscale.StateDir, nil
	}
	if cfg.Database.Path != "" {
		return filepath.Join(filepath.Dir(cfg.Database.Path), "tailscale"), nil
	}
	home, err := homeDir()
	if err != nil {
		return "", fmt.Errorf("no tailscale.state_dir and no home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "mission-control", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the configured key, else the environment key.
// A persistent node that already logged in may start without one.
func resolveTailscaleAuthKey(ts config.TailscaleConfig, stateDir string, getenv func(string) string) (string, error) {
	if ts.AuthKey != "" {
		return ts.AuthKey, nil
	}
	if key := getenv(config.EnvTailscaleAuthKey); key != "" {
		return key, nil
	}
	if !ts.Ephemeral {
		if _, err := os.Stat(filepath.Join(stateDir, tsnetStateFile)); err == nil {
			return "", nil
		}
	}
	return "", errNoTailnetCredentials
}

// setupTailscaleListener joins the tailnet and returns the API listener.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	ts := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(s.config, os.UserHomeDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(ts, stateDir, os.Getenv)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  ts.Hostname,
		Dir:       stateDir,
		Ephemeral: ts.Ephemeral,
		AuthKey:   authKey,
		UserLogf:  func(format string, args ...any) { s.logger.Debug(fmt.Sprintf(format, args...)) },
	}

	s.logger.Info("joining tailnet", "hostname", ts.Hostname, "state_dir", stateDir,
		"ephemeral", ts.Ephemeral, "stored_login", authKey == "")
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("joining tailnet: %w", err)
	}
	s.logTailnetNode(status)

	ln, err := s.listenTailnet(planTailnetListener(ts))
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, err
	}
	return ln, nil
}

func (s *Server) logTailnetNode(status *ipnstate.Status) {
	attrs := []any{"hostname", s.config.Tailscale.Hostname}
	if len(status.TailscaleIPs) > 0 {
		attrs = append(attrs, "tailnet_ip", status.TailscaleIPs[0].String())
	} else {
		s.logger.Warn("tailnet node has no addresses yet")
	}
	if status.Self != nil {
		attrs = append(attrs, "dns_name", status.Self.DNSName)
	}
	s.logger.Info("tailnet node up", attrs...)
}

func (s *Server) listenTailnet(plan tailnetListener) (net.Listener, error) {
	if plan.funnel {
		s.logger.Warn("operator API exposed publicly through funnel", "addr", plan.addr)
		ln, err := s.tsnetServer.ListenFunnel("tcp", plan.addr)
		if err != nil {
			return nil, fmt.Errorf("funnel listen on %s: %w", plan.addr, err)
		}
		return ln, nil
	}

	ln, err := s.tsnetServer.Listen("tcp", plan.addr)
	if err != nil {
		return nil, fmt.Errorf("tailnet listen on %s: %w", plan.addr, err)
	}
	if !plan.wrapTLS {
		return ln, nil
	}

	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, errors.Join(errors.New("tailnet certificates unavailable"), err)
	}
	s.logger.Info("serving tailnet HTTPS", "addr", plan.addr)
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}
