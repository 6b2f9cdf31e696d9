package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/deployhook/internal/config"
	"github.com/mattjoyce/deployhook/internal/execute"
	"github.com/mattjoyce/deployhook/internal/executor"
	"github.com/mattjoyce/deployhook/internal/listener"
	"github.com/mattjoyce/deployhook/internal/lock"
	"github.com/mattjoyce/deployhook/internal/log"
	"github.com/mattjoyce/deployhook/internal/queue"
	"github.com/mattjoyce/deployhook/internal/resource"
	"github.com/mattjoyce/deployhook/internal/storage"
	"github.com/mattjoyce/deployhook/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "config":
		return runConfigNoun(args)
	case "status":
		return runStatus(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`deployhook - git webhook listener for procedures and stacks

Usage:
  deployhook <command> [flags]

Commands:
  start             Start the webhook listener in foreground
  config check      Validate configuration and integrity
  config lock       Write BLAKE3 checksums for the config files
  status            Show stored resources and queue depth
  version           Show version information
  help              Show this help message
`)
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: deployhook version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("deployhook %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: deployhook config <check|lock> [flags]")
		return 1
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "lock":
		return runConfigLock(args[1:])
	case "help", "--help", "-h":
		fmt.Println("Usage: deployhook config <check|lock> [flags]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}

	fmt.Printf("Configuration valid (%d file(s))\n", len(cfg.SourcePaths))
	fmt.Printf("  listen: %s\n", cfg.Listener.Listen)
	fmt.Printf("  procedures: %d\n", len(cfg.Procedures))
	fmt.Printf("  stacks: %d\n", len(cfg.Stacks))
	if cfg.Listener.WebhookSecret == "" {
		for _, id := range resourcesWithoutSecret(cfg) {
			fmt.Printf("  warning: %s has no webhook secret and no listener.webhook_secret is set\n", id)
		}
	}
	return 0
}

// resourcesWithoutSecret lists enabled resources whose deliveries could
// never verify.
func resourcesWithoutSecret(cfg *config.Config) []string {
	var out []string
	for _, p := range cfg.Procedures {
		if p.Enabled() && p.WebhookSecret == "" {
			out = append(out, "procedure "+p.ID)
		}
	}
	for _, s := range cfg.Stacks {
		if s.Enabled() && s.WebhookSecret == "" {
			out = append(out, "stack "+s.ID)
		}
	}
	return out
}

func runConfigLock(args []string) int {
	var configPath, configDir string
	var verbose, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.StringVar(&configDir, "config-dir", "", "Path to config directory holding config.yaml")
	fs.BoolVar(&verbose, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Compute hashes without writing .checksums")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if configPath != "" && configDir != "" {
		fmt.Fprintln(os.Stderr, "Error: use only one of --config or --config-dir")
		return 1
	}
	target := configPath
	if target == "" {
		target = configDir
	}
	if target == "" {
		target = "."
	}

	files, err := config.ConfigFiles(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve config files: %v\n", err)
		return 1
	}

	dirToFiles := make(map[string][]string)
	for _, path := range files {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], filepath.Base(path))
	}
	dirs := make([]string, 0, len(dirToFiles))
	for dir := range dirToFiles {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		report, err := config.GenerateChecksums(dir, dirToFiles[dir], dryRun)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to lock config in %s: %v\n", dir, err)
			return 1
		}

		if verbose {
			for _, f := range report.Files {
				fmt.Printf("  HASH %s %s\n", f.Hash, f.Path)
			}
		}
		if dryRun {
			fmt.Printf("Dry run: would write %s (%d file(s))\n", report.ChecksumPath, len(report.Files))
		} else {
			fmt.Printf("Wrote %s (%d file(s))\n", report.ChecksumPath, len(report.Files))
		}
	}
	return 0
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("deployhook starting", "version", version, "config", *configPath)

	pidLockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	resources := resource.NewStore(db)
	if err := seedResources(ctx, resources, cfg); err != nil {
		logger.Error("failed to seed resources", "error", err)
		return 1
	}
	logger.Info("resources loaded", "procedures", len(cfg.Procedures), "stacks", len(cfg.Stacks))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	q := queue.New(db)
	updates := execute.NewUpdateStore(db)
	registry.MustRegister(queueDepthGauge(q))
	handoff := execute.NewHandoff(updates, execute.NewQueueEngine(q))
	l := listener.New(resources, handoff,
		listener.WithDefaultSecret(cfg.Listener.WebhookSecret),
		listener.WithSignatureHeader(cfg.Listener.SignatureHeader),
		listener.WithMetrics(listener.NewMetrics(registry)),
		listener.WithLogger(log.WithComponent("listener")),
	)

	webhookConfig, err := webhook.FromGlobalConfig(cfg, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err != nil {
		logger.Error("failed to configure listener", "error", err)
		return 1
	}
	server := webhook.New(webhookConfig, l, log.WithComponent("webhook"))

	errCh := make(chan error, 2)
	executorDone := make(chan struct{})

	if len(cfg.Executor.Command) > 0 {
		runner, err := executor.New(executor.Config{
			Command:      cfg.Executor.Command,
			Timeout:      cfg.Executor.Timeout,
			PollInterval: cfg.Executor.PollInterval,
		}, q, updates)
		if err != nil {
			logger.Error("failed to configure executor", "error", err)
			return 1
		}
		go func() {
			defer close(executorDone)
			if err := runner.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("executor: %w", err)
			}
		}()
	} else {
		close(executorDone)
		logger.Warn("executor.command not set, jobs stay queued")
	}

	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("webhook: %w", err)
			return
		}
		errCh <- nil
	}()

	logger.Info("deployhook running (press Ctrl+C to stop)")
	if err := <-errCh; err != nil {
		logger.Error("component failed", "error", err)
		cancel()
		<-executorDone
		return 1
	}
	<-executorDone

	logger.Info("deployhook stopped")
	return 0
}

func queueDepthGauge(q *queue.Queue) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "deployhook_execution_queue_depth",
		Help: "Execution jobs waiting for the executor.",
	}, func() float64 {
		n, err := q.Depth(context.Background())
		if err != nil {
			return -1
		}
		return float64(n)
	})
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	jobID := fs.String("job", "", "Show a single execution job")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	q := queue.New(db)

	if *jobID != "" {
		job, err := q.GetJobByID(ctx, *jobID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load job: %v\n", err)
			return 1
		}
		fmt.Printf("job %s\n", job.ID)
		fmt.Printf("  operation: %s %s/%s\n", job.Operation, job.TargetKind, job.TargetID)
		fmt.Printf("  update: %s\n", job.UpdateID)
		fmt.Printf("  status: %s\n", job.Status)
		if job.LastError != nil {
			fmt.Printf("  last_error: %s\n", *job.LastError)
		}
		return 0
	}

	store := resource.NewStore(db)
	procedures, err := store.ListProcedures(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list procedures: %v\n", err)
		return 1
	}
	stacks, err := store.ListStacks(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list stacks: %v\n", err)
		return 1
	}
	depth, err := q.Depth(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read queue depth: %v\n", err)
		return 1
	}

	fmt.Printf("procedures: %d\n", len(procedures))
	for _, p := range procedures {
		fmt.Printf("  %s webhook=%s\n", p.ID, onOff(p.Config.WebhookEnabled))
	}
	fmt.Printf("stacks: %d\n", len(stacks))
	for _, st := range stacks {
		fmt.Printf("  %s branch=%s webhook=%s force_deploy=%s\n",
			st.ID, st.Config.Branch, onOff(st.Config.WebhookEnabled), onOff(st.Config.WebhookForceDeploy))
	}
	fmt.Printf("queued jobs: %d\n", depth)
	return 0
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// seedResources upserts the configured procedures and stacks. Resources
// removed from config stay in the store until deleted there.
func seedResources(ctx context.Context, store *resource.Store, cfg *config.Config) error {
	for _, p := range cfg.Procedures {
		err := store.UpsertProcedure(ctx, resource.Procedure{
			ID:   p.ID,
			Name: p.Name,
			Config: resource.ProcedureConfig{
				WebhookEnabled: p.Enabled(),
				WebhookSecret:  p.WebhookSecret,
			},
		})
		if err != nil {
			return fmt.Errorf("procedure %q: %w", p.ID, err)
		}
	}

	for _, s := range cfg.Stacks {
		err := store.UpsertStack(ctx, resource.Stack{
			ID:   s.ID,
			Name: s.Name,
			Config: resource.StackConfig{
				Branch:             s.Branch,
				WebhookEnabled:     s.Enabled(),
				WebhookSecret:      s.WebhookSecret,
				WebhookForceDeploy: s.WebhookForceDeploy,
			},
		})
		if err != nil {
			return fmt.Errorf("stack %q: %w", s.ID, err)
		}
	}
	return nil
}
