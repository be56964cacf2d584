// Package invalidation purges cached paths from a CloudFront distribution.
package invalidation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/oklog/ulid/v2"
)

// StatusCompleted is the CloudFront status of a finished invalidation.
const StatusCompleted = "Completed"

var ErrInvalidPath = errors.New("invalidation: path must start with /")

// Invalidator purges paths from a distribution.
type Invalidator interface {
	Invalidate(ctx context.Context, distributionID string, paths []string, opts ...CallOption) (Invalidation, error)
}

// CallOption customizes one invalidation request.
type CallOption func(*callOptions)

type callOptions struct {
	reference string
}

// WithReference sets the caller reference of one request. CloudFront returns the existing
// invalidation instead of creating another when a reference is reused with the same paths.
func WithReference(ref string) CallOption {
	return func(opts *callOptions) {
		opts.reference = strings.TrimSpace(ref)
	}
}

// Client is a CloudFront invalidation client.
type Client interface {
	Invalidator
	Get(ctx context.Context, distributionID, invalidationID string) (Invalidation, error)
	Wait(ctx context.Context, distributionID, invalidationID string, maxWait time.Duration) error
}

type Invalidation struct {
	ID              string
	DistributionID  string
	Status          string
	CallerReference string
	Paths           []string
	CreatedAt       time.Time
}

type cloudFrontAPI interface {
	CreateInvalidation(
		ctx context.Context,
		params *cloudfront.CreateInvalidationInput,
		optFns ...func(*cloudfront.Options),
	) (*cloudfront.CreateInvalidationOutput, error)
	GetInvalidation(
		ctx context.Context,
		params *cloudfront.GetInvalidationInput,
		optFns ...func(*cloudfront.Options),
	) (*cloudfront.GetInvalidationOutput, error)
}

type client struct {
	api cloudFrontAPI
	ref func() string
}

type clientOptions struct {
	api    cloudFrontAPI
	awsCfg *aws.Config
	ref    func() string
}

type Option func(*clientOptions)

func WithAWSConfig(cfg aws.Config) Option {
	return func(opts *clientOptions) {
		cfgCopy := cfg
		opts.awsCfg = &cfgCopy
	}
}

func WithAPI(api cloudFrontAPI) Option {
	return func(opts *clientOptions) {
		opts.api = api
	}
}

// WithCallerReference overrides the generator of invalidation caller references.
func WithCallerReference(ref func() string) Option {
	return func(opts *clientOptions) {
		opts.ref = ref
	}
}

func NewClient(ctx context.Context, options ...Option) (Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	opts := &clientOptions{}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(opts)
	}
	if opts.ref == nil {
		opts.ref = func() string { return "sitetheory-" + ulid.Make().String() }
	}

	if opts.api != nil {
		return &client{api: opts.api, ref: opts.ref}, nil
	}

	var cfg aws.Config
	if opts.awsCfg != nil {
		cfg = *opts.awsCfg
	} else {
		loaded, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return &client{api: cloudfront.NewFromConfig(cfg), ref: opts.ref}, nil
}

// NormalizePaths trims paths, drops blanks and duplicates, and defaults to /*.
func NormalizePaths(paths []string) ([]string, error) {
	seen := map[string]bool{}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
		seen[p] = true
		out = append(out, p)
	}
	if len(out) == 0 {
		out = append(out, "/*")
	}
	return out, nil
}

// ResolveReference returns the caller reference set by opts, or "" when none is.
func ResolveReference(opts ...CallOption) string {
	call := &callOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(call)
		}
	}
	return call.reference
}

func (c *client) Invalidate(ctx context.Context, distributionID string, paths []string, opts ...CallOption) (Invalidation, error) {
	if c == nil || c.api == nil {
		return Invalidation{}, errors.New("invalidation: client is nil")
	}
	distributionID = strings.TrimSpace(distributionID)
	if distributionID == "" {
		return Invalidation{}, errors.New("invalidation: distribution id is empty")
	}
	paths, err := NormalizePaths(paths)
	if err != nil {
		return Invalidation{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ref := ResolveReference(opts...)
	if ref == "" {
		ref = c.ref()
	}
	out, err := c.api.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(distributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(ref),
			Paths: &types.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		return Invalidation{}, fmt.Errorf("invalidation: create on %s: %w", distributionID, err)
	}
	inv := fromAPI(distributionID, out.Invalidation)
	if inv.CallerReference == "" {
		inv.CallerReference = ref
	}
	if len(inv.Paths) == 0 {
		inv.Paths = paths
	}
	return inv, nil
}

func (c *client) Get(ctx context.Context, distributionID, invalidationID string) (Invalidation, error) {
	if c == nil || c.api == nil {
		return Invalidation{}, errors.New("invalidation: client is nil")
	}
	distributionID = strings.TrimSpace(distributionID)
	invalidationID = strings.TrimSpace(invalidationID)
	if distributionID == "" || invalidationID == "" {
		return Invalidation{}, errors.New("invalidation: distribution id and invalidation id are required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	out, err := c.api.GetInvalidation(ctx, &cloudfront.GetInvalidationInput{
		DistributionId: aws.String(distributionID),
		Id:             aws.String(invalidationID),
	})
	if err != nil {
		return Invalidation{}, err
	}
	return fromAPI(distributionID, out.Invalidation), nil
}

// Wait blocks until the invalidation completes or maxWait elapses.
func (c *client) Wait(ctx context.Context, distributionID, invalidationID string, maxWait time.Duration) error {
	if c == nil || c.api == nil {
		return errors.New("invalidation: client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	waiter := cloudfront.NewInvalidationCompletedWaiter(c.api)
	return waiter.Wait(ctx, &cloudfront.GetInvalidationInput{
		DistributionId: aws.String(distributionID),
		Id:             aws.String(invalidationID),
	}, maxWait)
}

func fromAPI(distributionID string, in *types.Invalidation) Invalidation {
	inv := Invalidation{DistributionID: distributionID}
	if in == nil {
		return inv
	}
	inv.ID = aws.ToString(in.Id)
	inv.Status = aws.ToString(in.Status)
	if in.CreateTime != nil {
		inv.CreatedAt = *in.CreateTime
	}
	if batch := in.InvalidationBatch; batch != nil {
		inv.CallerReference = aws.ToString(batch.CallerReference)
		if batch.Paths != nil {
			inv.Paths = append([]string(nil), batch.Paths.Items...)
		}
	}
	return inv
}
