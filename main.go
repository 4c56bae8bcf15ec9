package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ferret/internal/agent"
	"ferret/internal/config"
	"ferret/internal/executor"
)

var version = "dev"

var (
	taskPath   string
	configPath string
	pretty     bool
	level      string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "ferret",
		Short:   "Deterministic self-healing web extraction agent",
		Version: version,
		Long: `ferret drives a headless Chromium to extract structured content from
web pages. Tasks are JSON documents describing what to extract; results
come back as JSON on stdout. Broken selectors heal through a fallback
chain (direct, cached, text, semantic) and winners are remembered per
site in a local cache.`,
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a JSON task document",
		Example: `  # Extract fields from a product page
  ferret run --task task.json

  # Read the task from stdin
  echo '{"action":"preview","url":"https://example.com"}' | ferret run --task -

  # Pretty-print the result
  ferret run --task task.json --pretty`,
		RunE: run,
	}
	runCmd.Flags().StringVarP(&taskPath, "task", "t", "-", "Task file path, or - for stdin")
	runCmd.Flags().StringVarP(&configPath, "config", "c", "ferret.yaml", "Configuration file path")
	runCmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON result")
	runCmd.Flags().StringVarP(&level, "level", "l", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	raw, err := readTask(taskPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if level != "" {
		cfg.Logging.Level = level
	}

	// Task-level overrides apply before the agent starts so browser and
	// cache settings take effect for this run.
	var probe executor.Task
	if err := json.Unmarshal(raw, &probe); err == nil && len(probe.ConfigOverrides) > 0 {
		if err := cfg.ApplyOverrides(probe.ConfigOverrides); err != nil {
			return err
		}
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := agent.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	exec := executor.New(a, logger)
	out := exec.ExecuteJSON(ctx, raw)

	if pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, out, "", "  "); err == nil {
			out = buf.Bytes()
		}
	}
	fmt.Println(string(out))

	var res executor.Result
	if err := json.Unmarshal(out, &res); err == nil && res.Status != "ok" {
		os.Exit(2)
	}
	return nil
}

func readTask(path string) ([]byte, error) {
	if path == "-" || path == "" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read task from stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task %s: %w", path, err)
	}
	return raw, nil
}

// newLogger builds a console logger on stderr. Stdout stays reserved for
// the JSON result.
func newLogger(levelName string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(levelName)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
