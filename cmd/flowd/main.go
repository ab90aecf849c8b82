// flowd is the workflow engine daemon: HTTP API, event trigger registry
// and schedule sweeper in one process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/songzhibin97/gkit/generator"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tenantflow/engine/api"
	"github.com/tenantflow/engine/events"
	"github.com/tenantflow/engine/schedule"
	"github.com/tenantflow/engine/storage"
	"github.com/tenantflow/engine/templates"
	"github.com/tenantflow/engine/types"
	"github.com/tenantflow/engine/workflow"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "flowd",
		Short:         "Multi-tenant workflow engine daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd())
	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, trigger registry and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	cmd.Flags().String("config", "", "config file (default: ./flowd.yaml)")
	return cmd
}

func loadConfig() error {
	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("storage.backend", "memory")
	viper.SetDefault("storage.redis.addr", "localhost:6379")
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.postgres.dsn", "")
	viper.SetDefault("scheduler.check_interval", "60s")
	viper.SetDefault("events.buffer_size", 100)
	viper.SetDefault("log.level", "info")

	viper.SetConfigName("flowd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/flowd")

	viper.SetEnvPrefix("FLOWD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(viper.GetString("log.level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func newStore(ctx context.Context, logger *slog.Logger) (storage.Store, func(), error) {
	backend := viper.GetString("storage.backend")
	switch backend {
	case "memory":
		logger.Warn("using in-memory storage; all state is lost on restart")
		return storage.NewMemoryStore(), func() {}, nil
	case "redis":
		store, err := storage.NewRedisStore(storage.RedisOptions{
			Addr:     viper.GetString("storage.redis.addr"),
			Password: viper.GetString("storage.redis.password"),
			DB:       viper.GetInt("storage.redis.db"),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		store, err := storage.NewPostgresStore(ctx, viper.GetString("storage.postgres.dsn"))
		if err != nil {
			return nil, nil, err
		}
		if err := store.InitSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func serve(ctx context.Context) error {
	if err := loadConfig(); err != nil {
		return err
	}
	logger := newLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	actions := workflow.NewRegistry()
	registerBuiltinActions(actions, logger)

	snowflake := generator.NewSnowflake(time.Now().Add(-1*time.Second), 1)
	engine, err := workflow.NewEngine(snowflake, store, actions, workflow.WithLogger(logger))
	if err != nil {
		return err
	}

	dispatch := func(ctx context.Context, workflowID string, payload map[string]interface{}) {
		runTriggered(ctx, store, engine, logger, workflowID, types.TriggerEvent, payload)
	}
	registry := events.NewRegistry(dispatch,
		events.WithBufferSize(viper.GetInt("events.buffer_size")),
		events.WithLogger(logger),
	)
	defer registry.Stop()

	executor := func(ctx context.Context, job types.ScheduledJob, payload map[string]interface{}) error {
		runTriggered(ctx, store, engine, logger, job.WorkflowID, types.TriggerSchedule, payload)
		return nil
	}
	scheduler := schedule.NewScheduler(executor,
		schedule.WithStore(store),
		schedule.WithCheckInterval(viper.GetDuration("scheduler.check_interval")),
		schedule.WithLogger(logger),
	)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	service := workflow.NewService(store, engine,
		workflow.WithJobManager(scheduler),
		workflow.WithEventSubscriber(registry),
		workflow.WithServiceLogger(logger),
	)

	// Re-bind event subscriptions for workflows that were active before the
	// last restart. Scheduled jobs are restored from the store by the
	// scheduler itself.
	if err := rebindSubscriptions(ctx, store, registry); err != nil {
		logger.Error("failed to restore event subscriptions", "error", err)
	}

	server := api.NewServer(service, registry, templates.DefaultCatalog(), logger)
	addr := viper.GetString("http.addr")

	errCh := make(chan error, 1)
	go func() {
		logger.Info("flowd listening", "addr", addr, "storage", viper.GetString("storage.backend"))
		errCh <- server.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	}
}

// runTriggered loads a workflow and runs it for an event or schedule fire.
// Run failures are recorded on the execution and logged; they do not
// propagate to the trigger source.
func runTriggered(ctx context.Context, store storage.Store, engine *workflow.Engine, logger *slog.Logger, workflowID, triggerType string, payload map[string]interface{}) {
	wf, err := store.GetWorkflow(ctx, workflowID)
	if err != nil {
		logger.Error("triggered workflow not found", "workflow_id", workflowID, "error", err)
		return
	}
	if wf.Status != types.StatusActive {
		logger.Warn("skipping trigger for inactive workflow", "workflow_id", workflowID, "status", wf.Status)
		return
	}
	if _, err := engine.Execute(ctx, wf, workflow.TriggerInfo{Type: triggerType, Payload: payload}, nil); err != nil {
		logger.Error("triggered run failed", "workflow_id", workflowID, "trigger", triggerType, "error", err)
	}
}

// rebindSubscriptions re-subscribes every active event-triggered workflow
// after a restart. Subscriptions live in memory only.
func rebindSubscriptions(ctx context.Context, store storage.Store, registry *events.Registry) error {
	workflows, err := store.ListWorkflows(ctx, "", storage.ListFilter{Status: types.StatusActive})
	if err != nil {
		return err
	}
	for _, wf := range workflows {
		if wf.Trigger.Type == types.TriggerEvent && wf.Trigger.Event != "" {
			registry.Subscribe(wf.ID, wf.TenantID, wf.Trigger.Event)
		}
	}
	return nil
}

// registerBuiltinActions installs the handlers available out of the box.
// Embedding applications register their own on top.
func registerBuiltinActions(actions *workflow.Registry, logger *slog.Logger) {
	_ = actions.RegisterFunc("log", func(ctx context.Context, config, runContext map[string]interface{}) (interface{}, error) {
		msg, _ := config["message"].(string)
		logger.Info("workflow log action", "message", msg)
		return map[string]interface{}{"logged": true, "message": msg}, nil
	})
	_ = actions.RegisterFunc("set_variables", func(ctx context.Context, config, runContext map[string]interface{}) (interface{}, error) {
		out := make(map[string]interface{}, len(config))
		for k, v := range config {
			out[k] = v
		}
		return out, nil
	})
	_ = actions.RegisterFunc("noop", func(ctx context.Context, config, runContext map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	})
}
