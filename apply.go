package sitetheory

import (
	"context"
	"fmt"

	"github.com/theory-cloud/sitetheory/pkg/graph"
	"github.com/theory-cloud/sitetheory/pkg/logger"
	"github.com/theory-cloud/sitetheory/pkg/observability"
)

// Emitter declares one node with a concrete provisioning engine.
type Emitter interface {
	Emit(ctx context.Context, node *graph.Node) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, node *graph.Node) error

func (f EmitterFunc) Emit(ctx context.Context, node *graph.Node) error {
	return f(ctx, node)
}

// Result summarizes an apply.
type Result struct {
	RunID    string
	Emitted  []string
	Skipped  []string
	Warnings []Warning
}

type applyOptions struct {
	logger observability.StructuredLogger
	ids    IDGenerator
}

type ApplyOption func(*applyOptions)

func WithLogger(l observability.StructuredLogger) ApplyOption {
	return func(opts *applyOptions) {
		opts.logger = l
	}
}

func WithIDGenerator(ids IDGenerator) ApplyOption {
	return func(opts *applyOptions) {
		opts.ids = ids
	}
}

// Apply validates g and declares its nodes in order through emitter.
//
// A failing fatal node stops the walk with an *ApplyError. A failing best-effort node is
// logged as a warning and the walk continues; nodes that depend on it are skipped, and
// skipping a fatal node is itself fatal. Only failures raised while declaring are isolated;
// a resource rejected later, when the engine deploys, fails that deployment.
func Apply(ctx context.Context, g *graph.Graph, emitter Emitter, opts ...ApplyOption) (*Result, error) {
	if g == nil || emitter == nil {
		return nil, fmt.Errorf("sitetheory: apply needs a graph and an emitter")
	}
	o := &applyOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.logger == nil {
		o.logger = logger.Logger()
	}
	if o.ids == nil {
		o.ids = ULIDGenerator{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	res := &Result{RunID: o.ids.NewID()}
	log := o.logger.WithRunID(res.RunID).WithStack(g.Name)

	if err := g.Validate(); err != nil {
		log.Error("resource graph rejected", map[string]any{"error": err.Error()})
		return res, err
	}

	unavailable := map[string]bool{}
	for _, node := range g.Nodes() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		nlog := log.WithNode(node.ID)
		fields := map[string]any{"kind": string(node.Kind), "policy": string(node.Policy)}

		err := missingDependency(node, unavailable)
		if err == nil {
			nlog.Debug("declaring resource", fields)
			err = safeEmit(ctx, emitter, node)
		} else {
			res.Skipped = append(res.Skipped, node.ID)
		}
		if err == nil {
			res.Emitted = append(res.Emitted, node.ID)
			continue
		}

		fields["error"] = err.Error()
		if node.Policy == graph.PolicyBestEffort {
			unavailable[node.ID] = true
			res.Warnings = append(res.Warnings, Warning{NodeID: node.ID, Kind: node.Kind, Err: err})
			nlog.Warn("best-effort resource not declared, continuing", fields)
			continue
		}
		nlog.Error("resource declaration failed", fields)
		return res, &ApplyError{NodeID: node.ID, Kind: node.Kind, Err: err}
	}

	log.Info("resource graph declared", map[string]any{
		"emitted":  len(res.Emitted),
		"skipped":  len(res.Skipped),
		"warnings": len(res.Warnings),
	})
	return res, nil
}

func missingDependency(node *graph.Node, unavailable map[string]bool) error {
	for _, dep := range node.DependsOn {
		if unavailable[dep] {
			return fmt.Errorf("%w: %s", ErrDependencyUnavailable, dep)
		}
	}
	return nil
}

func safeEmit(ctx context.Context, emitter Emitter, node *graph.Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrEnginePanic, r)
		}
	}()
	return emitter.Emit(ctx, node)
}
