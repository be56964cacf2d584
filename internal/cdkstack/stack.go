// Package cdkstack declares the site resource graph as an AWS CDK stack.
package cdkstack

import (
	"context"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"github.com/theory-cloud/sitetheory"
	"github.com/theory-cloud/sitetheory/pkg/config"
	"github.com/theory-cloud/sitetheory/pkg/graph"
	"github.com/theory-cloud/sitetheory/pkg/naming"
	"github.com/theory-cloud/sitetheory/pkg/observability"
)

const managedBy = "sitetheory"

type StackProps struct {
	awscdk.StackProps

	Config config.Config
	Logger observability.StructuredLogger
}

// Stack is the synthesized site stack together with the outcome of the declaration walk.
type Stack struct {
	awscdk.Stack

	Graph   *graph.Graph
	Result  *sitetheory.Result
	Emitter *Emitter
}

// NewStack defines the site graph from props.Config and declares it in a new stack.
func NewStack(scope constructs.Construct, props *StackProps) (*Stack, error) {
	if props == nil {
		props = &StackProps{}
	}
	g, err := sitetheory.Define(props.Config)
	if err != nil {
		return nil, err
	}
	return NewStackFromGraph(scope, g, props)
}

// NewStackFromGraph declares an already defined graph in a new stack named after it.
func NewStackFromGraph(scope constructs.Construct, g *graph.Graph, props *StackProps) (*Stack, error) {
	if props == nil {
		props = &StackProps{}
	}
	sprops := props.StackProps
	if sprops.Env == nil {
		sprops.Env = env(props.Config)
	}
	stack := awscdk.NewStack(scope, jsii.String(g.Name), &sprops)
	return declare(stack, g, props)
}

func declare(stack awscdk.Stack, g *graph.Graph, props *StackProps) (*Stack, error) {
	tag(stack, props.Config)

	emitter := NewEmitter(stack)
	var opts []sitetheory.ApplyOption
	if props.Logger != nil {
		opts = append(opts, sitetheory.WithLogger(props.Logger))
	}
	res, err := sitetheory.Apply(context.Background(), g, emitter, opts...)
	out := &Stack{Stack: stack, Graph: g, Result: res, Emitter: emitter}
	if err != nil {
		return out, err
	}
	outputs(stack, g, res, emitter)
	return out, nil
}

func env(cfg config.Config) *awscdk.Environment {
	if cfg.Account == "" && cfg.Region == "" {
		return nil
	}
	e := &awscdk.Environment{}
	if cfg.Account != "" {
		e.Account = jsii.String(cfg.Account)
	}
	if cfg.Region != "" {
		e.Region = jsii.String(cfg.Region)
	}
	return e
}

func tag(stack awscdk.Stack, cfg config.Config) {
	tags := awscdk.Tags_Of(stack)
	if cfg.Project != "" {
		tags.Add(jsii.String("project"), jsii.String(cfg.Project), nil)
	}
	tags.Add(jsii.String("stage"), jsii.String(naming.NormalizeStage(cfg.Stage)), nil)
	tags.Add(jsii.String("managed-by"), jsii.String(managedBy), nil)
}

func outputs(stack awscdk.Stack, g *graph.Graph, res *sitetheory.Result, emitter *Emitter) {
	for _, n := range g.Of(graph.KindBucket) {
		if b, ok := emitter.Bucket(n.ID); ok {
			awscdk.NewCfnOutput(stack, jsii.String("BucketName"), &awscdk.CfnOutputProps{
				Value:       b.BucketName(),
				Description: jsii.String("Site asset bucket"),
			})
		}
	}
	for _, n := range g.Of(graph.KindDistribution) {
		if d, ok := emitter.Distribution(n.ID); ok {
			awscdk.NewCfnOutput(stack, jsii.String("DistributionDomainName"), &awscdk.CfnOutputProps{
				Value:       d.DistributionDomainName(),
				Description: jsii.String("Distribution default hostname"),
			})
		}
	}
	if url, ok := sitetheory.SiteURL(g, res); ok {
		awscdk.NewCfnOutput(stack, jsii.String("SiteURL"), &awscdk.CfnOutputProps{
			Value:       jsii.String(url),
			Description: jsii.String("Public site URL"),
		})
	}
}
