// README: Smoke and load runner against a live foodhub-api; checks storage, auth and the dispatch race.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"foodhub/internal/config"
)

// Config holds the bench settings. Storage and token settings default to
// the values foodhub-api itself loads, so one environment drives both.
type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	MigrationPath  string
	ApplyMigration bool
	JWTSecret      string
	JWTIssuer      string
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "bench:", err)
		os.Exit(2)
	}

	runner, err := NewRunner(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bench:", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	results := runner.RunAll(ctx)

	counts := summarize(results)
	if counts[statusFail] > 0 || (cfg.Strict && counts[statusSkip] > 0) {
		os.Exit(1)
	}
}

func loadConfig() (Config, error) {
	app, err := config.Load()
	if err != nil {
		return Config{}, fmt.Errorf("load app config: %w", err)
	}
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", "http://localhost"+app.HTTP.Addr, "foodhub-api base URL")
	flag.StringVar(&cfg.DSN, "dsn", app.DB.DSN, "Postgres DSN")
	flag.StringVar(&cfg.RedisAddr, "redis", app.Redis.Addr, "Redis address")
	flag.StringVar(&cfg.MigrationPath, "migration", "migrations/0001_init.sql", "schema applied by -apply-migration")
	flag.BoolVar(&cfg.ApplyMigration, "apply-migration", false, "apply the schema before running cases")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", app.Auth.JWTSecret, "token secret shared with the API; authenticated cases skip without it")
	flag.StringVar(&cfg.JWTIssuer, "jwt-issuer", app.Auth.JWTIssuer, "token issuer")
	flag.BoolVar(&cfg.Strict, "strict", false, "treat skipped cases as failures")
	flag.DurationVar(&cfg.Timeout, "timeout", time.Minute, "overall deadline")
	flag.IntVar(&cfg.Concurrency, "concurrency", 20, "workers for the load case")
	flag.DurationVar(&cfg.Duration, "duration", 10*time.Second, "length of the load case")
	flag.Parse()

	if !strings.HasPrefix(app.HTTP.Addr, ":") && !isFlagSet("base-url") {
		cfg.BaseURL = "http://" + app.HTTP.Addr
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Concurrency < 1 {
		return cfg, fmt.Errorf("concurrency must be positive, got %d", cfg.Concurrency)
	}
	return cfg, nil
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// summarize prints failures and skips with their reasons, then the totals.
func summarize(results []Result) map[string]int {
	counts := make(map[string]int)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nCASE\tSTATUS\tNOTE")
	for _, r := range results {
		counts[r.Status]++
		if r.Status != statusPass {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Status, r.Note)
		}
	}
	_ = tw.Flush()
	fmt.Printf("%d passed, %d failed, %d skipped\n", counts[statusPass], counts[statusFail], counts[statusSkip])
	return counts
}
