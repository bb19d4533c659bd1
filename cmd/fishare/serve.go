package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/fishare/fishare/internal/config"
	"github.com/fishare/fishare/internal/consent"
	"github.com/fishare/fishare/internal/discovery"
	"github.com/fishare/fishare/internal/history"
	"github.com/fishare/fishare/internal/identity"
	"github.com/fishare/fishare/internal/logging"
	"github.com/fishare/fishare/internal/metrics"
	"github.com/fishare/fishare/internal/state"
	"github.com/fishare/fishare/internal/transfer"
)

func serveCmd() *cobra.Command {
	var metricsAddr string
	var rateLimit string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Advertise this device and accept incoming transfers",
		Long: `Run FIshare in the foreground: advertise this device over the LAN,
listen for other devices, and accept incoming transfer requests (subject
to operator consent and the busy/available status).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger(logLevel, logFormat)

			cfg, err := config.Load(dataDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			id, err := identity.LoadOrCreate(dataDir)
			if err != nil {
				return fmt.Errorf("load identity: %w", err)
			}

			hist, err := history.Open(dataDir)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}

			downloadDir := cfg.ResolveDownloadDir(dataDir)
			if err := os.MkdirAll(downloadDir, 0755); err != nil {
				return fmt.Errorf("create download dir: %w", err)
			}

			if rateLimit != "" {
				bytesPerSec, err := humanize.ParseBytes(rateLimit)
				if err != nil {
					return fmt.Errorf("invalid --rate-limit %q: %w", rateLimit, err)
				}
				cfg.RateLimitBytesPerSec = int64(bytesPerSec)
			}

			initialStatus := state.StatusAvailable
			if !cfg.AllowIncoming {
				initialStatus = state.StatusRestricted
			}
			st := state.New(initialStatus)

			// Register on the default registerer/gatherer pair so the
			// fishare_* series below show up under the --metrics-addr
			// promhttp.Handler(), which gathers prometheus.DefaultGatherer.
			m := metrics.Default()

			adv := discovery.NewAdvertiser(st, cfg.DeviceName, cfg.ListenPort, cfg.DiscoveryPort, m, logger)
			scanner := discovery.NewScanner(st, cfg.DiscoveryPort, cfg.ListenPort, m, logger)

			recv := &transfer.Receiver{
				ListenAddr:     cfg.ListenAddr(),
				DownloadDir:    downloadDir,
				Identity:       id,
				Oracle:         consent.NewCLIOracle(logger),
				State:          st,
				History:        hist,
				Logger:         logger,
				Metrics:        m,
				RateLimitBytes: cfg.RateLimitBytesPerSec,
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 3)
			go func() { errCh <- adv.Run(ctx) }()
			go func() { errCh <- scanner.Run(ctx) }()
			go func() { errCh <- recv.Run(ctx) }()

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				srv := &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Warn("metrics server stopped", logging.KeyError, err)
					}
				}()
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Println(dimStyle.Render(fmt.Sprintf("metrics: http://%s/metrics", metricsAddr)))
			}

			pubKey := id.PublicKey()
			fmt.Println(headerStyle.Render("FIshare"))
			fmt.Printf("device name:  %s\n", cfg.DeviceName)
			fmt.Printf("device key:   %s\n", hex.EncodeToString(pubKey[:])[:16]+"...")
			fmt.Printf("listen addr:  %s\n", net.JoinHostPort("0.0.0.0", fmt.Sprint(cfg.ListenPort)))
			fmt.Printf("download dir: %s\n", downloadDir)
			fmt.Printf("status:       %s\n", statusStyle(string(st.Status())).Render(string(st.Status())))
			if cfg.RateLimitBytesPerSec > 0 {
				fmt.Printf("rate limit:   %s/s\n", humanize.IBytes(uint64(cfg.RateLimitBytesPerSec)))
			}
			fmt.Println(dimStyle.Render("press Ctrl+C to stop"))

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					logger.Error("component exited", logging.KeyError, err)
				}
			}

			fmt.Println("shutting down...")
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (e.g. :9090); empty disables")
	cmd.Flags().StringVar(&rateLimit, "rate-limit", "", "Cap transfer throughput, e.g. 5MB, 512KiB (overrides config); empty uses the configured value")

	return cmd
}
