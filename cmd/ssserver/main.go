// Package main provides the CLI entry point for the shadowrelay server.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adteven/shadowrelay/internal/acl"
	"github.com/adteven/shadowrelay/internal/cipher"
	"github.com/adteven/shadowrelay/internal/config"
	"github.com/adteven/shadowrelay/internal/logging"
	"github.com/adteven/shadowrelay/internal/manager"
	"github.com/adteven/shadowrelay/internal/metrics"
	"github.com/adteven/shadowrelay/internal/relay"
	"github.com/adteven/shadowrelay/internal/resolver"
	"github.com/adteven/shadowrelay/internal/wizard"
	"golang.org/x/time/rate"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "ssserver",
		Short:   "shadowrelay - an encrypted TCP relay server",
		Version: Version,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(validateConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively scaffold a new configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := wizard.New()
			if err := w.LoadExisting(configPath); err != nil {
				return err
			}

			result, err := w.Run()
			if err != nil {
				return err
			}

			path := configPath
			if result.ConfigPath != "" {
				path = result.ConfigPath
			}
			if err := w.Write(result.Config, path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	return cmd
}

func validateConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate a configuration file without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("Configuration valid: %d server instance(s)\n", len(cfg.Servers))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	return cmd
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

			relayCtx, err := buildContext(cfg)
			if err != nil {
				return fmt.Errorf("failed to build relay context: %w", err)
			}
			relayCtx.Logger = logger

			var metricsServer *metrics.Server
			if cfg.Metrics.Enabled {
				metricsServer = metrics.NewDefaultServer(cfg.Metrics.Address, logger)
				if err := metricsServer.Start(); err != nil {
					return fmt.Errorf("failed to start metrics server: %w", err)
				}
				defer metricsServer.Stop()
			}

			srv := relay.NewServer(relayCtx)

			var mgrSrv *manager.Server
			if cfg.Manager != "" {
				mgrAddr, err := manager.ParseAddr(cfg.Manager)
				if err != nil {
					return fmt.Errorf("invalid manager address: %w", err)
				}
				dg, err := manager.Bind(mgrAddr, managerResolve(relayCtx.Resolver))
				if err != nil {
					return fmt.Errorf("failed to bind manager socket: %w", err)
				}
				mgrSrv = manager.NewServer(dg, srv, logger)
				go func() {
					if err := mgrSrv.Serve(); err != nil {
						logger.Warn("manager server stopped", "error", err)
					}
				}()
				logger.Info("manager control socket listening", "address", cfg.Manager)
				defer mgrSrv.Close()
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Run()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				logger.Info("received signal, shutting down", "signal", sig.String())
				if err := srv.Close(); err != nil {
					logger.Warn("error closing server", "error", err)
				}
				<-errCh
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("relay server exited: %w", err)
				}
			}

			logger.Info("relay server stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	return cmd
}

// managerResolve adapts a resolver.Resolver to the resolveFunc signature
// internal/manager needs for a domain-name manager address.
func managerResolve(res *resolver.Resolver) func(host string, port uint16) ([]*net.UDPAddr, error) {
	return func(host string, port uint16) ([]*net.UDPAddr, error) {
		return res.ResolveUDP(context.Background(), host, port)
	}
}

// buildContext translates a parsed Config into the relay.Context the
// server runs against: compiling ACL rule lists, looking up each
// instance's AEAD method, and constructing the shared resolver and
// metrics-backed flow counter.
func buildContext(cfg *config.Config) (*relay.Context, error) {
	instances := make([]*relay.ServerInstance, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		method, err := cipher.LookupMethod(s.Method)
		if err != nil {
			return nil, fmt.Errorf("server %q: %w", s.Address, err)
		}

		var limiter *rate.Limiter
		if s.RateLimitBytesPerSec > 0 {
			limiter = rate.NewLimiter(rate.Limit(s.RateLimitBytesPerSec), int(s.RateLimitBytesPerSec))
		}

		instances = append(instances, &relay.ServerInstance{
			Name:           s.Name,
			BindAddr:       s.Address,
			Method:         method,
			PresharedKey:   []byte(s.Password),
			ConnectTimeout: s.ConnectTimeout,
			IdleTimeout:    s.IdleTimeout,
			Limiter:        limiter,
		})
	}

	inboundACL, err := acl.Compile(cfg.ACL.Inbound)
	if err != nil {
		return nil, fmt.Errorf("acl.inbound: %w", err)
	}
	outboundACL, err := acl.Compile(cfg.ACL.Outbound)
	if err != nil {
		return nil, fmt.Errorf("acl.outbound: %w", err)
	}

	res := resolver.New(&resolver.Config{
		Nameservers: cfg.DNS.Nameservers,
		Timeout:     cfg.DNS.Timeout,
	}, cfg.IPv6First)

	var localAddr *net.TCPAddr
	if cfg.LocalAddress != "" {
		localAddr = &net.TCPAddr{IP: net.ParseIP(cfg.LocalAddress)}
	}

	return &relay.Context{
		Instances:   instances,
		LocalAddr:   localAddr,
		Resolver:    res,
		InboundACL:  inboundACL,
		OutboundACL: outboundACL,
		NoDelay:     cfg.NoDelay,
		Flow:        metrics.Default(),
	}, nil
}
