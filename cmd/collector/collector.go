// Package collector implements the collector command.
package collector

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/birdnet-edge/internal/collector"
	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/logger"
	"github.com/tphakala/birdnet-edge/internal/observability"
	"github.com/tphakala/birdnet-edge/internal/telemetry"
)

// Command creates the collector command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collector",
		Short: "Receive detection events over UDP and store them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}
	return cmd
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("listen", "", "UDP listen address, e.g. 0.0.0.0:50555")
	cmd.Flags().String("driver", "", "Store driver: sqlite or mysql")
	cmd.Flags().String("db", "", "SQLite database path")

	for flag, key := range map[string]string{
		"listen": "collector.listen",
		"driver": "collector.store.driver",
		"db":     "collector.store.path",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

// Run serves the collector until interrupted
func Run(ctx context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("collector")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := collector.OpenStore(settings.Collector.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close store", logger.Error(err))
		}
	}()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	c := collector.New(collector.ConfigFromSettings(&settings.Collector), store,
		collector.WithObserver(metrics.Collector))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Run(gctx)
	})
	if settings.Telemetry.Enabled {
		endpoint, err := telemetry.NewEndpoint(settings, metrics.Gatherer())
		if err != nil {
			return err
		}
		g.Go(func() error {
			return endpoint.Run(gctx)
		})
	}

	return g.Wait()
}
