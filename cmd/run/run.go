// Package run implements the main subcommand: it assembles the full delivery
// pipeline (provider, agent, page context, registration, backend sync, local
// HTTP surface) and runs it until interrupted.
package run

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/expensems/emspush/internal/agent"
	"github.com/expensems/emspush/internal/backend"
	"github.com/expensems/emspush/internal/conf"
	"github.com/expensems/emspush/internal/httpapi"
	"github.com/expensems/emspush/internal/logging"
	"github.com/expensems/emspush/internal/notification"
	"github.com/expensems/emspush/internal/observability/metrics"
	"github.com/expensems/emspush/internal/page"
	"github.com/expensems/emspush/internal/provider"
	"github.com/expensems/emspush/internal/push"
	"github.com/expensems/emspush/internal/registration"
	"github.com/expensems/emspush/internal/render"
	"github.com/expensems/emspush/internal/telemetry"
	"github.com/expensems/emspush/internal/tokenstore"
)

// Command creates the run command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the push client",
		Long:  "Connect to the push provider, register the device token with the expense backend, and deliver notifications until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(settings)
		},
	}
	return cmd
}

func runClient(settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.ForService("run")
	if logger == nil {
		logger = slog.Default().With("service", "run")
	}

	if err := telemetry.Init(settings); err != nil {
		logger.Warn("telemetry initialization failed", "error", err)
	}
	defer telemetry.Flush(3 * time.Second)

	pushMetrics, err := metrics.NewPushMetrics(prometheus.NewRegistry())
	if err != nil {
		return err
	}

	notifier := buildNotifier(settings, logger)

	store, err := tokenstore.Open(settings.Push.TokenStorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	backendClient := backend.NewClient(settings)
	prov := provider.NewMQTTProvider(settings)
	defer prov.Close()

	ag := agent.New(agent.Config{
		DedupBucket:          settings.Push.Dedup.Bucket,
		SkipWaitingOnInstall: true,
	}, notifier, pushMetrics)
	ag.Start(ctx)
	defer ag.Stop()

	busConfig := page.BusConfig{
		DedupWindow: settings.Push.Dedup.Window,
		DedupBucket: settings.Push.Dedup.Bucket,
		GraceDelay:  settings.Push.GraceDelay,
	}

	router := page.NewRouter(ag)
	tab := page.Open(ctx, ag, busConfig, notifier, pushMetrics)
	tab.Focus()
	router.Register(tab)
	defer tab.Close()

	// Clicks with no open page context open a fresh one at the destination
	ag.SetOpener(func(destination push.Destination, _ map[string]string) {
		opened := page.Open(ctx, ag, busConfig, notifier, pushMetrics)
		opened.Navigate(destination)
		opened.Focus()
		router.Register(opened)
	})

	// A headless client has no prompt to show; permission tracks the platform
	// state and starts granted.
	permission := registration.NewMemoryPermission(push.PermissionGranted, nil)

	manager := registration.New(registration.DefaultConfig(), prov, backendClient,
		store, ag, permission, router.Deliver, pushMetrics)
	manager.Initialize(ctx)
	if err := manager.Err(); err != nil {
		logger.Warn("registration incomplete, continuing without push", "error", err)
	}

	syncService := notification.NewService(notification.ServiceConfig{
		PageSize:  settings.Push.PageSize,
		MaxMirror: settings.Push.MaxNotifications,
	}, backendClient, tab.Bus(), tab.State())
	syncService.Start(ctx)
	defer syncService.Stop()

	if err := syncService.Refresh(ctx); err != nil {
		logger.Warn("initial notification fetch failed", "error", err)
	}

	var server *httpapi.Server
	if settings.Webserver.Enabled {
		server = httpapi.New(tab, syncService, manager, pushMetrics.Registry())
		go func() {
			if err := server.Start(settings.Webserver.Port); err != nil {
				logger.Error("http api failed", "error", err)
			}
		}()
	}

	logger.Info("push client running", "token_registered", manager.Token() != "")
	<-ctx.Done()
	logger.Info("shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http api shutdown failed", "error", err)
		}
	}

	return nil
}

// buildNotifier wires the configured renderer behind a tag collapser so both
// delivery paths share one dedup window.
func buildNotifier(settings *conf.Settings, logger *slog.Logger) render.Notifier {
	var notifier render.Notifier
	if len(settings.Renderer.URLs) > 0 {
		sn, err := render.NewShoutrrrNotifier(settings.Renderer.URLs, settings.Renderer.Timeout)
		if err != nil {
			logger.Warn("renderer setup failed, falling back to log rendering", "error", err)
			notifier = render.NewLogNotifier()
		} else {
			notifier = sn
		}
	} else {
		notifier = render.NewLogNotifier()
	}
	return render.NewTagCollapser(notifier, settings.Push.Dedup.Window)
}
