package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/lakelink/lakelink/client"
)

// FileConfig represents the YAML configuration file structure
type FileConfig struct {
	Server      string          `yaml:"server"`
	UserID      string          `yaml:"user_id"`
	ExplainMode string          `yaml:"explain_mode"`
	Timeout     string          `yaml:"timeout"` // e.g., "5m"
	Retry       RetryFileConfig `yaml:"retry"`
}

type RetryFileConfig struct {
	MaxRetries        *int    `yaml:"max_retries"`
	InitialBackoff    string  `yaml:"initial_backoff"` // e.g., "50ms"
	MaxBackoff        string  `yaml:"max_backoff"`     // e.g., "1m"
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// loadConfigFile loads configuration from a YAML file
func loadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// env returns the environment variable value or a default
func env(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func usage() {
	fmt.Fprintf(os.Stderr, "Lakelink - session client for remote plan execution\n\n")
	fmt.Fprintf(os.Stderr, "Usage: lakelink [options] <command> <plan-file>\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  analyze   Report the plan's schema, explain text and input files\n")
	fmt.Fprintf(os.Stderr, "  schema    Print only the plan's result schema\n")
	fmt.Fprintf(os.Stderr, "  explain   Print the plan's explain text (see -mode)\n")
	fmt.Fprintf(os.Stderr, "  command   Execute the plan as a side-effecting command\n")
	fmt.Fprintf(os.Stderr, "  fetch     Execute the plan and print the result rows\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
	fmt.Fprintf(os.Stderr, "  LAKELINK_CONFIG              Path to YAML config file\n")
	fmt.Fprintf(os.Stderr, "  LAKELINK_SERVER              Connection string (default: lk://localhost:15002)\n")
	fmt.Fprintf(os.Stderr, "  LAKELINK_USER_ID             User identity sent with every request\n")
	fmt.Fprintf(os.Stderr, "  LAKELINK_EXPLAIN_MODE        Explain mode (default: simple)\n")
	fmt.Fprintf(os.Stderr, "  LAKELINK_TIMEOUT             Per-invocation deadline (default: 5m)\n")
	fmt.Fprintf(os.Stderr, "  LAKELINK_MAX_RETRIES         Retry attempts after the first try\n")
	fmt.Fprintf(os.Stderr, "  LAKELINK_INITIAL_BACKOFF     Initial retry backoff ceiling\n")
	fmt.Fprintf(os.Stderr, "  LAKELINK_MAX_BACKOFF         Maximum retry backoff ceiling\n")
	fmt.Fprintf(os.Stderr, "  LAKELINK_BACKOFF_MULTIPLIER  Backoff ceiling growth factor\n")
	fmt.Fprintf(os.Stderr, "  LAKELINK_LOG_LEVEL           debug, info, warn or error (default: info)\n")
	fmt.Fprintf(os.Stderr, "\nPrecedence: CLI flags > environment variables > config file > defaults\n")
}

func main() {
	configFile := flag.String("config", env("LAKELINK_CONFIG", ""), "Path to YAML config file (env: LAKELINK_CONFIG)")
	server := flag.String("server", "", "Connection string, lk://host[:port][/;key=value...] (env: LAKELINK_SERVER)")
	user := flag.String("user", "", "User identity sent with every request (env: LAKELINK_USER_ID)")
	mode := flag.String("mode", "", "Explain mode: simple, extended, codegen, cost or formatted (env: LAKELINK_EXPLAIN_MODE)")
	timeout := flag.String("timeout", "", "Per-invocation deadline, e.g. 5m (env: LAKELINK_TIMEOUT)")
	maxRetries := flag.Int("max-retries", 0, "Retry attempts after the first try (env: LAKELINK_MAX_RETRIES)")
	initialBackoff := flag.String("initial-backoff", "", "Initial retry backoff ceiling, e.g. 50ms (env: LAKELINK_INITIAL_BACKOFF)")
	maxBackoff := flag.String("max-backoff", "", "Maximum retry backoff ceiling, e.g. 1m (env: LAKELINK_MAX_BACKOFF)")
	backoffMultiplier := flag.Float64("backoff-multiplier", 0, "Backoff ceiling growth factor (env: LAKELINK_BACKOFF_MULTIPLIER)")
	showHelp := flag.Bool("help", false, "Show help message")

	flag.Usage = usage
	flag.Parse()

	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		if *showHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	shutdownLogging := initLogging()
	defer shutdownLogging()

	var fileCfg *FileConfig
	if *configFile != "" {
		loaded, err := loadConfigFile(*configFile)
		if err != nil {
			slog.Error("Failed to load config file.", "path", *configFile, "error", err)
			os.Exit(1)
		}
		slog.Info("Loaded configuration.", "path", *configFile)
		fileCfg = loaded
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := resolveEffectiveConfig(fileCfg, configCLIInputs{
		Set:               set,
		Server:            *server,
		UserID:            *user,
		ExplainMode:       *mode,
		Timeout:           *timeout,
		MaxRetries:        *maxRetries,
		InitialBackoff:    *initialBackoff,
		MaxBackoff:        *maxBackoff,
		BackoffMultiplier: *backoffMultiplier,
	}, os.Getenv, func(msg string) { slog.Warn(msg) })

	if err := run(flag.Arg(0), flag.Args()[1:], cfg); err != nil {
		slog.Error("Command failed.", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(command string, args []string, cfg resolvedConfig) error {
	if len(args) != 1 {
		return fmt.Errorf("command %q takes exactly one plan file argument", command)
	}
	plan, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}

	explainMode, err := client.ParseExplainMode(cfg.ExplainMode)
	if err != nil {
		return err
	}

	opts := []client.Option{
		client.WithRetryPolicy(cfg.Retry),
		client.WithLogger(slog.Default()),
	}
	if cfg.UserID != "" {
		opts = append(opts, client.WithUserID(cfg.UserID))
	}
	c, err := client.New(cfg.Server, opts...)
	if err != nil {
		return err
	}
	defer c.Close()
	slog.Debug("Session opened.", "server", cfg.Server, "session_id", c.SessionID())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	switch command {
	case "analyze":
		result, err := c.Analyze(ctx, plan, explainMode)
		if err != nil {
			return err
		}
		fmt.Printf("schema: %s\n", result.Schema)
		fmt.Printf("is_local: %v\nis_streaming: %v\n", result.IsLocal, result.IsStreaming)
		for _, f := range result.InputFiles {
			fmt.Printf("input: %s\n", f)
		}
		fmt.Println(result.ExplainString)
		return nil
	case "schema":
		schema, err := c.Schema(ctx, plan)
		if err != nil {
			return err
		}
		fmt.Println(schema)
		return nil
	case "explain":
		text, err := c.ExplainString(ctx, plan, explainMode)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	case "command":
		return c.ExecuteCommand(ctx, plan)
	case "fetch":
		result, err := c.ExecuteAndFetch(ctx, plan)
		if err != nil {
			return err
		}
		defer result.Release()
		return printRows(result)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// printRows writes the result as tab-separated lines, header first.
func printRows(result *client.QueryResult) error {
	rows := result.Rows()
	cols := rows.Columns()
	fmt.Println(strings.Join(cols, "\t"))

	dest := make([]any, len(cols))
	vals := make([]interface{}, len(cols))
	for i := range vals {
		dest[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			if v == nil {
				parts[i] = "NULL"
			} else {
				parts[i] = fmt.Sprint(v)
			}
		}
		fmt.Println(strings.Join(parts, "\t"))
	}

	slog.Debug("Fetch complete.", "rows", result.NumRows(), "plans_with_metrics", len(result.Metrics()))
	return nil
}
