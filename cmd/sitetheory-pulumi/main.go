package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/theory-cloud/sitetheory/internal/pulumistack"
	"github.com/theory-cloud/sitetheory/pkg/config"
	"github.com/theory-cloud/sitetheory/pkg/logger"
)

func main() {
	ctx := context.Background()
	log, err := logger.Configure(ctx, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sitetheory-pulumi: warning: logger: %v\n", err)
		log = logger.Logger()
	}

	cfg, err := load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sitetheory-pulumi: %v\n", err)
		os.Exit(1)
	}
	program, err := pulumistack.Program(cfg, pulumistack.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sitetheory-pulumi: %v\n", err)
		os.Exit(1)
	}
	pulumi.Run(func(pctx *pulumi.Context) error {
		defer func() {
			_ = log.Flush(ctx)
		}()
		return program(pctx)
	})
}

func load() (config.Config, error) {
	if path := os.Getenv("SITETHEORY_CONFIG"); path != "" {
		return config.LoadFile(path, os.LookupEnv)
	}
	return config.Load(os.LookupEnv)
}
