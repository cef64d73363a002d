// Command gatewayd runs the unified AI-provider API gateway: a streaming
// reverse proxy with channel failover, an SSH reverse-tunnel manager, a
// periodic health prober, and a management API — wired together the way the
// teacher's cmd/llm-proxy/main.go wires its own server, database, and
// service layer (flag dispatch, logger init, dependency construction,
// goroutine-per-subsystem start, signal-driven graceful shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ai-gateway/gatewayd/internal/api"
	"github.com/ai-gateway/gatewayd/internal/channel"
	"github.com/ai-gateway/gatewayd/internal/config"
	"github.com/ai-gateway/gatewayd/internal/eventbus"
	"github.com/ai-gateway/gatewayd/internal/health"
	"github.com/ai-gateway/gatewayd/internal/proxy"
	"github.com/ai-gateway/gatewayd/internal/retry"
	"github.com/ai-gateway/gatewayd/internal/router"
	"github.com/ai-gateway/gatewayd/internal/tunnel"
	"github.com/ai-gateway/gatewayd/internal/version"
)

func main() {
	configFlag := flag.String("config", "", "path to config.yaml (env TUNNEL_CONFIG/AI_TUNNEL_CONFIG override)")
	versionFlag := flag.Bool("version", false, "print version and exit")
	initFlag := flag.Bool("init", false, "write config.example.yaml and exit")
	flag.Usage = printUsage
	flag.Parse()

	switch {
	case *versionFlag:
		fmt.Println(version.Info())
		return
	case *initFlag:
		if err := runInit(); err != nil {
			log.Fatalf("init: %v", err)
		}
		return
	}

	if err := run(*configFlag); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func printUsage() {
	fmt.Printf("gatewayd - %s\n\n", version.Short())
	fmt.Println("Usage: gatewayd [OPTIONS]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Run 'gatewayd --init' to generate a starter config.example.yaml.")
}

// gateway owns every long-lived subsystem and the machinery to atomically
// replace them on a config reload.
type gateway struct {
	configPath string
	logger     *zap.Logger
	bus        *eventbus.Bus

	registry *channel.Registry
	rtr      *router.Router

	policyMu sync.RWMutex
	policy   retry.Policy

	proxySrv *proxy.Server

	healthMu sync.Mutex
	prober   *health.Prober

	tunnelMu sync.Mutex
	tunnelMgr *tunnel.Manager
}

func (g *gateway) retryPolicy() retry.Policy {
	g.policyMu.RLock()
	defer g.policyMu.RUnlock()
	return g.policy
}

func run(configFlag string) error {
	path := config.ResolvePath(configFlag)

	var legacyWarnings []string
	cfg, err := config.LoadWithWarn(path, func(format string, args ...any) {
		legacyWarnings = append(legacyWarnings, fmt.Sprintf(format, args...))
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.Settings.LogLevel, getLogDir())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	bus := eventbus.New(logger, parseBusLevel(cfg.Settings.LogLevel))
	bus.Emit(eventbus.Info, "startup", "starting gatewayd", map[string]any{
		"version": version.Short(),
		"config":  path,
	})
	for _, w := range legacyWarnings {
		bus.Emit(eventbus.Warn, "config", w, nil)
	}

	registry := channel.NewRegistry()
	registry.Replace(cfg.BuildChannels())
	rtr := router.New(registry, cfg.BuildRouteGroups(), cfg.ChannelOrder())

	g := &gateway{
		configPath: path,
		logger:     logger,
		bus:        bus,
		registry:   registry,
		rtr:        rtr,
		policy:     cfg.BuildRetryPolicy(),
	}

	g.proxySrv = proxy.New(rtr, g.retryPolicy, bus)
	g.prober = health.New(registry, bus)
	g.prober.Start()
	g.tunnelMgr = buildTunnelManager(cfg, logger)
	if g.tunnelMgr != nil {
		if err := g.tunnelMgr.Start(); err != nil {
			logger.Warn("initial ssh tunnel connect failed, will retry in background", zap.Error(err))
		}
	}

	reloadCh, cancelReload := bus.Subscribe("config_reload_request")
	defer cancelReload()
	go g.watchReload(reloadCh)

	mgmtSrv := api.NewServer(api.Deps{
		Registry:  registry,
		Bus:       bus,
		AuthToken: cfg.UIAuthToken,
		Logger:    logger,
	})

	proxyHTTP := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      g.proxySrv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	var mgmtHTTP *http.Server
	if cfg.Server.UI.Enabled {
		mgmtHTTP = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.UI.Host, cfg.Server.UI.Port),
			Handler:      mgmtSrv,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 3 * time.Minute,
			IdleTimeout:  120 * time.Second,
		}
	}

	go func() {
		if err := proxyHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("proxy server error", zap.Error(err))
		}
	}()
	logger.Info("proxy listening", zap.String("addr", proxyHTTP.Addr))

	if mgmtHTTP != nil {
		go func() {
			if err := mgmtHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("management api server error", zap.Error(err))
			}
		}()
		logger.Info("management api listening", zap.String("addr", mgmtHTTP.Addr))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := proxyHTTP.Shutdown(ctx); err != nil {
		logger.Warn("proxy shutdown error", zap.Error(err))
	}
	if mgmtHTTP != nil {
		if err := mgmtHTTP.Shutdown(ctx); err != nil {
			logger.Warn("management api shutdown error", zap.Error(err))
		}
	}
	g.healthMu.Lock()
	g.prober.Stop()
	g.healthMu.Unlock()

	g.tunnelMu.Lock()
	if g.tunnelMgr != nil {
		if err := g.tunnelMgr.Shutdown(ctx); err != nil {
			logger.Warn("tunnel shutdown error", zap.Error(err))
		}
	}
	g.tunnelMu.Unlock()

	logger.Info("shutdown complete")
	return nil
}

// watchReload re-reads the config file and atomically swaps channel/route/
// retry/tunnel state on each config_reload_request event. A failed reload
// logs and keeps the previous, already-running state (spec.md §7).
func (g *gateway) watchReload(events <-chan eventbus.Record) {
	for range events {
		cfg, err := config.LoadWithWarn(g.configPath, func(format string, args ...any) {
			g.bus.Emit(eventbus.Warn, "config", fmt.Sprintf(format, args...), nil)
		})
		if err != nil {
			g.bus.Emit(eventbus.Warn, "config", "reload failed, keeping previous config", map[string]any{"error": err.Error()})
			continue
		}

		g.registry.Replace(cfg.BuildChannels())
		g.rtr.Update(cfg.BuildRouteGroups(), cfg.ChannelOrder())

		g.policyMu.Lock()
		g.policy = cfg.BuildRetryPolicy()
		g.policyMu.Unlock()

		g.healthMu.Lock()
		g.prober.Stop()
		g.prober = health.New(g.registry, g.bus)
		g.prober.Start()
		g.healthMu.Unlock()

		g.tunnelMu.Lock()
		if g.tunnelMgr != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = g.tunnelMgr.Shutdown(shutdownCtx)
			cancel()
		}
		g.tunnelMgr = buildTunnelManager(cfg, g.logger)
		if g.tunnelMgr != nil {
			if err := g.tunnelMgr.Start(); err != nil {
				g.logger.Warn("tunnel reconnect after reload failed", zap.Error(err))
			}
		}
		g.tunnelMu.Unlock()

		g.bus.Emit(eventbus.Info, "config", "config reloaded", map[string]any{"channels": len(cfg.Channels)})
	}
}

func buildTunnelManager(cfg *config.Config, logger *zap.Logger) *tunnel.Manager {
	if cfg.SSH == nil {
		return nil
	}

	var pairs []tunnel.PortPair
	for _, ch := range cfg.Channels {
		if ch.Tunnel != nil && ch.Tunnel.Enabled {
			pairs = append(pairs, tunnel.PortPair{RemotePort: ch.Tunnel.RemotePort, LocalPort: ch.Tunnel.LocalPort})
		}
	}
	if len(pairs) == 0 {
		return nil
	}

	tcfg := tunnel.Config{
		Host:     cfg.SSH.Host,
		Port:     cfg.SSH.Port,
		Username: cfg.SSH.Username,
		Credential: tunnel.Credential{
			PrivateKeyPath: cfg.SSH.PrivateKeyPath,
			Password:       cfg.SSH.Password,
		},
		Pairs:             pairs,
		ReconnectInterval: time.Duration(cfg.Settings.ReconnectInterval) * time.Second,
	}
	return tunnel.New(tcfg, logger)
}
