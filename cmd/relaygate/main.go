// Command relaygate runs the HTTP/HTTPS forward-and-reverse proxy
// described by internal/proxyconfig. Wiring follows the teacher's cobra
// command style (modules/caddyhttp/caddyauth/command.go): a single root
// command whose flags are parsed into a typed struct before any work
// begins.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaygate/relaygate/internal/auth"
	"github.com/relaygate/relaygate/internal/dispatch"
	"github.com/relaygate/relaygate/internal/forward"
	"github.com/relaygate/relaygate/internal/listenerd"
	"github.com/relaygate/relaygate/internal/metrics"
	"github.com/relaygate/relaygate/internal/netutil"
	"github.com/relaygate/relaygate/internal/proxyconfig"
	"github.com/relaygate/relaygate/internal/relaylog"
	"github.com/relaygate/relaygate/internal/reverseproxy"
	"github.com/relaygate/relaygate/internal/siteassets"
	"github.com/relaygate/relaygate/internal/tlsaccept"
	"github.com/relaygate/relaygate/internal/tunnel"
)

func main() {
	root := &cobra.Command{
		Use:   "relaygate",
		Short: "HTTP/HTTPS forward and reverse proxy",
	}
	raw := proxyconfig.RegisterFlags(root)
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return run(raw)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(proxyconfig.ExitCodeFailedStartup)
	}
}

func run(raw *proxyconfig.RawParams) error {
	cfg, err := proxyconfig.Load(raw)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := relaylog.Init(cfg.LogDir, cfg.LogFile, cfg.Debug)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer log.Sync()

	localIP, err := netutil.LocalIP()
	if err != nil {
		localIP = "0.0.0.0"
		log.Warn("could not determine local IP, using 0.0.0.0 for CONNECT padding", zap.Error(err))
	}

	reg := metrics.NewRegistry()

	basicAuth := auth.Table(cfg.BasicAuth)
	site := siteassets.NewHandler(cfg.WebContentPath, cfg.RefererKeywordsToSelf, basicAuth, reg)

	idleTimeout := proxyconfig.IdleTimeout(cfg.Debug)

	var acceptor *tlsaccept.Acceptor
	if cfg.OverTLS {
		acceptor, err = tlsaccept.NewAcceptor(cfg.Cert, cfg.Key)
		if err != nil {
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)
	reg.StartAccessResetLoop(2*time.Hour, stop)
	if acceptor != nil {
		refresher := tlsaccept.NewRefresher(acceptor, cfg.Cert, cfg.Key, proxyconfig.RefreshInterval, log)
		go refresher.Run(stop)
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dispatch.Handle(w, r, dispatch.Deps{
			BasicAuth:       basicAuth,
			NeverAskForAuth: cfg.NeverAskForAuth,
			Site:            site,
			Log:             log,
			ReverseProxy: func(w http.ResponseWriter, r *http.Request) bool {
				return reverseproxy.Handle(w, r, reverseproxy.Deps{
					Rules:   cfg.ReverseProxyConfig,
					Metrics: reg,
					Log:     log,
					Config: reverseproxy.TransportConfig{
						ProxyProtocol: reverseproxy.ProxyProtocolVersion(cfg.SendProxyProtocol),
						DialTimeout:   10 * time.Second,
						Metrics:       reg,
					},
				})
			},
			ForwardDeps: func(username string) forward.Deps {
				client, _ := netutil.SplitHostPort(r.RemoteAddr, "0")
				return forward.Deps{
					Recorder: reg.AccessCounter(metrics.AccessLabel{
						Client:   client,
						Target:   r.Host,
						Username: username,
					}),
				}
			},
			TunnelDeps: func(username string) tunnel.Deps {
				client, _ := netutil.SplitHostPort(r.RemoteAddr, "0")
				return tunnel.Deps{
					IdleTimeout: idleTimeout,
					LocalIP:     localIP,
					Log:         log,
					Recorder: reg.AccessCounter(metrics.AccessLabel{
						Client:   client,
						Target:   r.Host,
						Username: username,
					}),
				}
			},
		})
	})

	servers := make([]*listenerd.Server, 0, len(cfg.Ports))
	errCh := make(chan error, len(cfg.Ports))
	for _, port := range cfg.PortStrings() {
		srv := &listenerd.Server{
			Addr:        ":" + port,
			Handler:     handler,
			IdleTimeout: idleTimeout,
			OverTLS:     cfg.OverTLS,
			TLS:         acceptor,
			Log:         log,
		}
		servers = append(servers, srv)

		scheme := "http"
		if cfg.OverTLS {
			scheme = "https"
		}
		log.Info("listening", zap.String("address", fmt.Sprintf("%s://%s:%s", scheme, localIP, port)))

		go func(s *listenerd.Server) {
			errCh <- s.ListenAndServe(ctx)
		}(srv)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Error("listener failed", zap.Error(err))
			cancel()
			return err
		}
	}

	for range servers {
		<-errCh
	}
	return nil
}
