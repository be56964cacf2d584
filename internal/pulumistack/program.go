// Package pulumistack registers the site resource graph as a Pulumi AWS program.
package pulumistack

import (
	"context"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/theory-cloud/sitetheory"
	"github.com/theory-cloud/sitetheory/pkg/config"
	"github.com/theory-cloud/sitetheory/pkg/graph"
	"github.com/theory-cloud/sitetheory/pkg/invalidation"
	"github.com/theory-cloud/sitetheory/pkg/logger"
	"github.com/theory-cloud/sitetheory/pkg/naming"
	"github.com/theory-cloud/sitetheory/pkg/observability"
)

const managedBy = "sitetheory"

type options struct {
	logger      observability.StructuredLogger
	invalidator func(ctx context.Context) (invalidation.Invalidator, error)
	tagValues   map[string]string
}

type Option func(*options)

func WithLogger(l observability.StructuredLogger) Option {
	return func(opts *options) {
		opts.logger = l
	}
}

// WithInvalidator replaces the CloudFront client used after asset uploads.
func WithInvalidator(inv invalidation.Invalidator) Option {
	return func(opts *options) {
		opts.invalidator = func(context.Context) (invalidation.Invalidator, error) { return inv, nil }
	}
}

// WithTags adds tags to every taggable resource.
func WithTags(tags map[string]string) Option {
	return func(opts *options) {
		for k, v := range tags {
			opts.tagValues[k] = v
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{tagValues: map[string]string{"managed-by": managedBy}}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.logger == nil {
		o.logger = logger.Logger()
	}
	if o.invalidator == nil {
		o.invalidator = func(ctx context.Context) (invalidation.Invalidator, error) {
			return invalidation.NewClient(ctx)
		}
	}
	return o
}

func (o *options) tags() pulumi.StringMap {
	return pulumi.ToStringMap(o.tagValues)
}

// Program defines the site graph from cfg and returns the Pulumi program declaring it.
func Program(cfg config.Config, opts ...Option) (pulumi.RunFunc, error) {
	g, err := sitetheory.Define(cfg)
	if err != nil {
		return nil, err
	}
	tags := map[string]string{"stage": naming.NormalizeStage(cfg.Stage)}
	if cfg.Project != "" {
		tags["project"] = cfg.Project
	}
	return ProgramFromGraph(g, append([]Option{WithTags(tags)}, opts...)...), nil
}

// ProgramFromGraph returns the Pulumi program declaring g.
func ProgramFromGraph(g *graph.Graph, opts ...Option) pulumi.RunFunc {
	return func(ctx *pulumi.Context) error {
		e := NewEmitter(ctx, opts...)
		res, err := sitetheory.Apply(ctx.Context(), g, e, sitetheory.WithLogger(e.opts.logger))
		if err != nil {
			return err
		}
		export(ctx, g, res, e)
		return nil
	}
}

func export(ctx *pulumi.Context, g *graph.Graph, res *sitetheory.Result, e *Emitter) {
	for _, n := range g.Of(graph.KindBucket) {
		if b, ok := e.buckets[n.ID]; ok {
			ctx.Export("bucketName", b.Bucket)
		}
	}
	for _, n := range g.Of(graph.KindDistribution) {
		if d, ok := e.distributions[n.ID]; ok {
			ctx.Export("distributionId", d.ID())
			ctx.Export("distributionDomain", d.DomainName)
		}
	}
	if url, ok := sitetheory.SiteURL(g, res); ok {
		ctx.Export("siteUrl", pulumi.String(url))
	}
	for _, n := range g.Of(graph.KindDeployment) {
		if id, ok := e.invalidations[n.ID]; ok {
			ctx.Export("invalidationId", id)
		}
	}
}
