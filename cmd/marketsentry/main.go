package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	_ "github.com/sawpanic/marketsentry/internal/adapter/binance"
	"github.com/sawpanic/marketsentry/internal/config"
	"github.com/sawpanic/marketsentry/internal/coordinator"
	"github.com/sawpanic/marketsentry/internal/metrics"
	"github.com/sawpanic/marketsentry/internal/model"
	"github.com/sawpanic/marketsentry/internal/notifier"
)

const (
	appName = "marketsentry"
	version = "v0.1.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Multi-venue crypto market anomaly detector.",
		Version: version,
	}

	var metricsAddr string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the ingestion and detection pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(metricsAddr)
		},
	}
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics and /healthz on")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate configuration without starting the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			log.Info().Interface("exchanges", cfg.Exchanges).Interface("perp_exchanges", cfg.PerpExchanges).Msg("configuration valid")
			return nil
		},
	}

	configCmd := &cobra.Command{Use: "config", Short: "Configuration utilities"}
	configCmd.AddCommand(validateCmd)

	rootCmd.AddCommand(runCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("marketsentry exited with error")
	}
}

func runPipeline(metricsAddr string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	endpoints := loadNotifierEndpoints()

	reg := prometheus.DefaultRegisterer
	coord, err := coordinator.New(cfg, log.Logger, reg, endpoints)
	if err != nil {
		return err
	}

	metricsSrv := metrics.NewServer()
	httpSrv := &http.Server{Addr: metricsAddr, Handler: metricsSrv.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Strs("exchanges", cfg.Exchanges).Dur("scan_interval", cfg.ScanInterval).Msg("starting marketsentry")

	err = coord.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	return err
}

func loadNotifierEndpoints() map[model.AlertKind]notifier.Endpoint {
	endpoints := make(map[model.AlertKind]notifier.Endpoint)
	add := func(kind model.AlertKind, urlEnv, secretEnv string) {
		url := os.Getenv(urlEnv)
		if url == "" {
			return
		}
		endpoints[kind] = notifier.Endpoint{URL: url, Secret: os.Getenv(secretEnv)}
	}
	add(model.AlertVolatility, "LARK_WEBHOOK_VOLATILITY_URL", "LARK_WEBHOOK_VOLATILITY_SECRET")
	add(model.AlertBasis, "LARK_WEBHOOK_BASIS_URL", "LARK_WEBHOOK_BASIS_SECRET")
	add(model.AlertCrossExchange, "LARK_WEBHOOK_CROSS_EXCHANGE_URL", "LARK_WEBHOOK_CROSS_EXCHANGE_SECRET")
	return endpoints
}
