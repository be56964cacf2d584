package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-cdk-go/awscdk/v2"

	"github.com/theory-cloud/sitetheory/internal/cdkstack"
	"github.com/theory-cloud/sitetheory/pkg/config"
	"github.com/theory-cloud/sitetheory/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()
	log, err := logger.Configure(ctx, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sitetheory-cdk: warning: logger: %v\n", err)
		log = logger.Logger()
	}
	defer func() {
		_ = log.Flush(ctx)
	}()

	cfg, err := load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sitetheory-cdk: %v\n", err)
		return 1
	}

	app := awscdk.NewApp(nil)
	if _, err := cdkstack.NewStack(app, &cdkstack.StackProps{Config: cfg, Logger: log}); err != nil {
		fmt.Fprintf(os.Stderr, "sitetheory-cdk: FAIL: %v\n", err)
		return 2
	}
	app.Synth(nil)
	return 0
}

func load() (config.Config, error) {
	if path := os.Getenv("SITETHEORY_CONFIG"); path != "" {
		return config.LoadFile(path, os.LookupEnv)
	}
	return config.Load(os.LookupEnv)
}
