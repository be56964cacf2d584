package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/theory-cloud/sitetheory"
	"github.com/theory-cloud/sitetheory/pkg/config"
	"github.com/theory-cloud/sitetheory/pkg/graph"
	"github.com/theory-cloud/sitetheory/pkg/invalidation"
	"github.com/theory-cloud/sitetheory/pkg/logger"
	"github.com/theory-cloud/sitetheory/pkg/preflight"
)

const (
	exitOK      = 0
	exitInvalid = 1
	exitFailed  = 2
)

type checker interface {
	Run(ctx context.Context, cfg config.Config) (preflight.Report, error)
}

// Replaced in tests.
var (
	newChecker = func(ctx context.Context) (checker, error) {
		return preflight.NewChecker(ctx)
	}
	newInvalidationClient = func(ctx context.Context) (invalidation.Client, error) {
		return invalidation.NewClient(ctx)
	}
)

type env struct {
	stdout io.Writer
	stderr io.Writer
	lookup func(string) (string, bool)
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], env{
		stdout: os.Stdout,
		stderr: os.Stderr,
		lookup: os.LookupEnv,
	}))
}

func run(ctx context.Context, args []string, e env) int {
	if len(args) == 0 {
		usage(e.stderr)
		return exitInvalid
	}

	if _, err := logger.Configure(ctx, e.lookup); err != nil {
		fmt.Fprintf(e.stderr, "sitetheory: warning: logger: %v\n", err)
	}
	defer func() {
		_ = logger.Logger().Flush(ctx)
	}()

	switch args[0] {
	case "plan":
		return runPlan(args[1:], e)
	case "verify":
		return runVerify(ctx, args[1:], e)
	case "invalidate":
		return runInvalidate(ctx, args[1:], e)
	case "help", "-h", "--help":
		usage(e.stdout)
		return exitOK
	default:
		fmt.Fprintf(e.stderr, "sitetheory: unknown command %q\n", args[0])
		usage(e.stderr)
		return exitInvalid
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `usage: sitetheory <command> [flags]

commands:
  plan        print the resource graph for the configured variant
  verify      plan, then check the hosted zone and certificate in the account
  invalidate  purge paths from a distribution
`)
}

func loadConfig(path string, e env) (config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Load(e.lookup)
	}
	return config.LoadFile(path, e.lookup)
}

func define(path string, e env) (config.Config, *graph.Graph, int) {
	cfg, err := loadConfig(path, e)
	if err != nil {
		fmt.Fprintf(e.stderr, "sitetheory: %v\n", err)
		return cfg, nil, exitInvalid
	}
	g, err := sitetheory.Define(cfg)
	if err == nil {
		err = g.Validate()
	}
	if err != nil {
		fmt.Fprintf(e.stderr, "sitetheory: %v\n", err)
		return cfg, nil, exitCode(err)
	}
	return cfg, g, exitOK
}

func runPlan(args []string, e env) int {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	var path, format string
	fs.StringVar(&path, "config", "", "YAML config file (environment overrides it)")
	fs.StringVar(&format, "format", "yaml", "output format: yaml or json")
	if err := fs.Parse(args); err != nil {
		return exitInvalid
	}

	_, g, code := define(path, e)
	if code != exitOK {
		return code
	}
	out, err := g.Render(format)
	if err != nil {
		fmt.Fprintf(e.stderr, "sitetheory: %v\n", err)
		return exitInvalid
	}
	if _, err := e.stdout.Write(out); err != nil {
		return exitFailed
	}
	return exitOK
}

func runVerify(ctx context.Context, args []string, e env) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	var path string
	fs.StringVar(&path, "config", "", "YAML config file (environment overrides it)")
	if err := fs.Parse(args); err != nil {
		return exitInvalid
	}

	cfg, _, code := define(path, e)
	if code != exitOK {
		return code
	}

	c, err := newChecker(ctx)
	if err != nil {
		fmt.Fprintf(e.stderr, "sitetheory: FAIL: %v\n", err)
		return exitFailed
	}
	report, checkErr := c.Run(ctx, cfg)
	out, err := yaml.Marshal(report)
	if err != nil {
		fmt.Fprintf(e.stderr, "sitetheory: FAIL: %v\n", err)
		return exitFailed
	}
	_, _ = e.stdout.Write(out)

	if checkErr != nil {
		logger.Logger().Error("preflight failed", map[string]any{"error": checkErr.Error()})
		fmt.Fprintf(e.stderr, "sitetheory: FAIL: %v\n", checkErr)
		return exitFailed
	}
	return exitOK
}

type pathList []string

func (p *pathList) String() string { return strings.Join(*p, ",") }

func (p *pathList) Set(value string) error {
	*p = append(*p, value)
	return nil
}

func runInvalidate(ctx context.Context, args []string, e env) int {
	fs := flag.NewFlagSet("invalidate", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	var distributionID string
	var paths pathList
	var wait time.Duration
	fs.StringVar(&distributionID, "distribution", "", "CloudFront distribution id")
	fs.Var(&paths, "path", "path to invalidate (repeatable, default /*)")
	fs.DurationVar(&wait, "wait", 0, "wait up to this long for the invalidation to complete")
	if err := fs.Parse(args); err != nil {
		return exitInvalid
	}
	if strings.TrimSpace(distributionID) == "" {
		fmt.Fprintln(e.stderr, "sitetheory: -distribution is required")
		return exitInvalid
	}
	normalized, err := invalidation.NormalizePaths(paths)
	if err != nil {
		fmt.Fprintf(e.stderr, "sitetheory: %v\n", err)
		return exitInvalid
	}

	client, err := newInvalidationClient(ctx)
	if err != nil {
		fmt.Fprintf(e.stderr, "sitetheory: FAIL: %v\n", err)
		return exitFailed
	}
	inv, err := client.Invalidate(ctx, distributionID, normalized)
	if err != nil {
		fmt.Fprintf(e.stderr, "sitetheory: FAIL: %v\n", err)
		return exitFailed
	}
	logger.Logger().Info("invalidation created", map[string]any{
		"distribution_id": inv.DistributionID,
		"invalidation":    inv.ID,
	})
	fmt.Fprintf(e.stdout, "%s %s %s\n", inv.ID, inv.Status, strings.Join(inv.Paths, ","))

	if wait <= 0 {
		return exitOK
	}
	if err := client.Wait(ctx, inv.DistributionID, inv.ID, wait); err != nil {
		fmt.Fprintf(e.stderr, "sitetheory: FAIL: %v\n", err)
		return exitFailed
	}
	fmt.Fprintf(e.stdout, "%s %s\n", inv.ID, invalidation.StatusCompleted)
	return exitOK
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var cfgErr *config.ConfigurationError
	var graphErr *graph.ValidationError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &cfgErr), errors.As(err, &graphErr):
		return exitInvalid
	default:
		return exitFailed
	}
}
