package pulumistack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"mime"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/acm"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/cloudfront"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/route53"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/s3"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/theory-cloud/sitetheory"
	"github.com/theory-cloud/sitetheory/pkg/graph"
	"github.com/theory-cloud/sitetheory/pkg/invalidation"
)

const defaultContentType = "application/octet-stream"

// Emitter registers graph nodes as Pulumi AWS resources.
type Emitter struct {
	ctx  *pulumi.Context
	opts *options

	buckets       map[string]*s3.Bucket
	zones         map[string]graph.ZoneRef
	certificates  map[string]pulumi.StringOutput
	distributions map[string]*cloudfront.Distribution
	providers     map[string]*aws.Provider
	invalidations map[string]pulumi.StringOutput
}

var _ sitetheory.Emitter = (*Emitter)(nil)

func NewEmitter(ctx *pulumi.Context, opts ...Option) *Emitter {
	return &Emitter{
		ctx:           ctx,
		opts:          newOptions(opts),
		buckets:       map[string]*s3.Bucket{},
		zones:         map[string]graph.ZoneRef{},
		certificates:  map[string]pulumi.StringOutput{},
		distributions: map[string]*cloudfront.Distribution{},
		providers:     map[string]*aws.Provider{},
		invalidations: map[string]pulumi.StringOutput{},
	}
}

func (e *Emitter) Emit(_ context.Context, node *graph.Node) error {
	switch spec := node.Spec.(type) {
	case graph.BucketSpec:
		return e.bucket(node.ID, spec)
	case graph.ZoneRef:
		e.zones[node.ID] = spec
		return nil
	case graph.CertificateSpec:
		return e.certificate(node.ID, spec)
	case graph.DistributionSpec:
		return e.distribution(node.ID, spec)
	case graph.AliasRecordSpec:
		return e.aliasRecord(node.ID, spec)
	case graph.DeploymentSpec:
		return e.deployment(node.ID, spec)
	default:
		return fmt.Errorf("%w: %T", sitetheory.ErrUnsupportedSpec, node.Spec)
	}
}

func (e *Emitter) bucket(id string, spec graph.BucketSpec) error {
	bucket, err := s3.NewBucket(e.ctx, id, &s3.BucketArgs{
		Website: &s3.BucketWebsiteArgs{
			IndexDocument: pulumi.String(spec.IndexDocument),
		},
		ForceDestroy: pulumi.Bool(spec.RemovalPolicy == graph.RemovalDestroy && spec.AutoDeleteObjects),
		Tags:         e.opts.tags(),
	}, e.retain(spec.RemovalPolicy))
	if err != nil {
		return err
	}
	e.buckets[id] = bucket
	if !spec.PublicRead {
		return nil
	}

	access, err := s3.NewBucketPublicAccessBlock(e.ctx, id+"-public-access", &s3.BucketPublicAccessBlockArgs{
		Bucket:                bucket.ID(),
		BlockPublicAcls:       pulumi.Bool(true),
		IgnorePublicAcls:      pulumi.Bool(true),
		BlockPublicPolicy:     pulumi.Bool(false),
		RestrictPublicBuckets: pulumi.Bool(false),
	})
	if err != nil {
		return err
	}
	_, err = s3.NewBucketPolicy(e.ctx, id+"-public-read", &s3.BucketPolicyArgs{
		Bucket: bucket.ID(),
		Policy: bucket.Arn.ApplyT(publicReadPolicy).(pulumi.StringOutput),
	}, pulumi.DependsOn([]pulumi.Resource{access}))
	return err
}

func publicReadPolicy(bucketARN string) (string, error) {
	doc := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{{
			"Effect":    "Allow",
			"Principal": "*",
			"Action":    []string{"s3:GetObject"},
			"Resource":  []string{bucketARN + "/*"},
		}},
	}
	out, err := json.Marshal(doc)
	return string(out), err
}

func (e *Emitter) provider(region string) (*aws.Provider, error) {
	if p, ok := e.providers[region]; ok {
		return p, nil
	}
	p, err := aws.NewProvider(e.ctx, "aws-"+region, &aws.ProviderArgs{
		Region: pulumi.String(region),
	})
	if err != nil {
		return nil, err
	}
	e.providers[region] = p
	return p, nil
}

func (e *Emitter) certificate(id string, spec graph.CertificateSpec) error {
	zone, ok := e.zones[spec.ZoneID]
	if !ok {
		return missing(id, spec.ZoneID)
	}
	provider, err := e.provider(spec.Region)
	if err != nil {
		return err
	}

	cert, err := acm.NewCertificate(e.ctx, id, &acm.CertificateArgs{
		DomainName:       pulumi.String(spec.DomainName),
		ValidationMethod: pulumi.String("DNS"),
		Tags:             e.opts.tags(),
	}, pulumi.Provider(provider))
	if err != nil {
		return err
	}

	option := cert.DomainValidationOptions.Index(pulumi.Int(0))
	record, err := route53.NewRecord(e.ctx, id+"-validation", &route53.RecordArgs{
		ZoneId:         pulumi.String(zone.ID),
		Name:           option.ResourceRecordName().Elem(),
		Type:           option.ResourceRecordType().Elem(),
		Ttl:            pulumi.Int(60),
		Records:        pulumi.StringArray{option.ResourceRecordValue().Elem()},
		AllowOverwrite: pulumi.Bool(true),
	})
	if err != nil {
		return err
	}

	validation, err := acm.NewCertificateValidation(e.ctx, id+"-validated", &acm.CertificateValidationArgs{
		CertificateArn:        cert.Arn,
		ValidationRecordFqdns: pulumi.StringArray{record.Fqdn},
	}, pulumi.Provider(provider))
	if err != nil {
		return err
	}
	e.certificates[id] = validation.CertificateArn
	return nil
}

func (e *Emitter) distribution(id string, spec graph.DistributionSpec) error {
	bucket, ok := e.buckets[spec.OriginID]
	if !ok {
		return missing(id, spec.OriginID)
	}

	viewer := &cloudfront.DistributionViewerCertificateArgs{
		CloudfrontDefaultCertificate: pulumi.Bool(true),
	}
	var aliases pulumi.StringArray
	if alias := spec.Alias; alias != nil {
		var arn pulumi.StringInput
		if alias.CertificateARN != "" {
			arn = pulumi.String(alias.CertificateARN)
		} else {
			validated, ok := e.certificates[alias.CertificateID]
			if !ok {
				return missing(id, alias.CertificateID)
			}
			arn = validated
		}
		viewer = &cloudfront.DistributionViewerCertificateArgs{
			CloudfrontDefaultCertificate: pulumi.Bool(false),
			AcmCertificateArn:            arn,
			SslSupportMethod:             pulumi.String("sni-only"),
			MinimumProtocolVersion:       pulumi.String("TLSv1.2_2021"),
		}
		aliases = pulumi.ToStringArray(alias.Names)
	}

	args := &cloudfront.DistributionArgs{
		Enabled:           pulumi.Bool(true),
		DefaultRootObject: pulumi.String("index.html"),
		Origins: cloudfront.DistributionOriginArray{
			&cloudfront.DistributionOriginArgs{
				DomainName: bucket.BucketRegionalDomainName,
				OriginId:   pulumi.String(spec.OriginID),
				S3OriginConfig: &cloudfront.DistributionOriginS3OriginConfigArgs{
					OriginAccessIdentity: pulumi.String(""),
				},
			},
		},
		DefaultCacheBehavior: &cloudfront.DistributionDefaultCacheBehaviorArgs{
			AllowedMethods: pulumi.ToStringArray([]string{"GET", "HEAD"}),
			CachedMethods:  pulumi.ToStringArray([]string{"GET", "HEAD"}),
			TargetOriginId: pulumi.String(spec.OriginID),
			ForwardedValues: &cloudfront.DistributionDefaultCacheBehaviorForwardedValuesArgs{
				QueryString: pulumi.Bool(false),
				Cookies: &cloudfront.DistributionDefaultCacheBehaviorForwardedValuesCookiesArgs{
					Forward: pulumi.String("none"),
				},
			},
			ViewerProtocolPolicy: pulumi.String("redirect-to-https"),
		},
		Restrictions: &cloudfront.DistributionRestrictionsArgs{
			GeoRestriction: &cloudfront.DistributionRestrictionsGeoRestrictionArgs{
				RestrictionType: pulumi.String("none"),
			},
		},
		ViewerCertificate: viewer,
		Tags:              e.opts.tags(),
	}
	if len(aliases) > 0 {
		args.Aliases = aliases
	}

	dist, err := cloudfront.NewDistribution(e.ctx, id, args)
	if err != nil {
		return err
	}
	e.distributions[id] = dist
	return nil
}

func (e *Emitter) aliasRecord(id string, spec graph.AliasRecordSpec) error {
	zone, ok := e.zones[spec.ZoneID]
	if !ok {
		return missing(id, spec.ZoneID)
	}
	dist, ok := e.distributions[spec.TargetID]
	if !ok {
		return missing(id, spec.TargetID)
	}
	_, err := route53.NewRecord(e.ctx, id, &route53.RecordArgs{
		ZoneId: pulumi.String(zone.ID),
		Name:   pulumi.String(spec.RecordName),
		Type:   pulumi.String("A"),
		Aliases: route53.RecordAliasArray{
			&route53.RecordAliasArgs{
				Name:                 dist.DomainName,
				ZoneId:               dist.HostedZoneId,
				EvaluateTargetHealth: pulumi.Bool(false),
			},
		},
	})
	return err
}

func (e *Emitter) deployment(id string, spec graph.DeploymentSpec) error {
	bucket, ok := e.buckets[spec.BucketID]
	if !ok {
		return missing(id, spec.BucketID)
	}
	files, err := assetFiles(spec.SourcePath)
	if err != nil {
		return fmt.Errorf("%s: read assets: %w", id, err)
	}

	uploaded := make([]any, 0, len(files))
	for _, key := range files {
		obj, err := s3.NewBucketObject(e.ctx, id+"/"+key, &s3.BucketObjectArgs{
			Bucket:      bucket.ID(),
			Key:         pulumi.String(key),
			Source:      pulumi.NewFileAsset(filepath.Join(spec.SourcePath, filepath.FromSlash(key))),
			ContentType: pulumi.String(contentType(key)),
		})
		if err != nil {
			return err
		}
		uploaded = append(uploaded, obj.Etag)
	}
	e.opts.logger.Info("site assets registered", map[string]any{
		"node":  id,
		"files": len(files),
	})

	if spec.DistributionID == "" {
		return nil
	}
	dist, ok := e.distributions[spec.DistributionID]
	if !ok {
		return missing(id, spec.DistributionID)
	}
	if e.ctx.DryRun() {
		return nil
	}

	paths := append([]string(nil), spec.InvalidationPaths...)
	inputs := append([]any{dist.ID()}, uploaded...)
	e.invalidations[id] = pulumi.All(inputs...).ApplyT(func(values []any) (string, error) {
		distID := fmt.Sprint(values[0])
		invalidator, err := e.opts.invalidator(e.ctx.Context())
		if err != nil {
			return "", err
		}
		ref := contentReference(distID, paths, files, values[1:])
		inv, err := invalidator.Invalidate(e.ctx.Context(), distID, paths, invalidation.WithReference(ref))
		if err != nil {
			return "", err
		}
		e.opts.logger.Info("distribution invalidated", map[string]any{
			"distribution_id": distID,
			"invalidation":    inv.ID,
			"reference":       ref,
		})
		return inv.ID, nil
	}).(pulumi.StringOutput)
	return nil
}

// contentReference derives the invalidation caller reference from the uploaded objects.
// An update that leaves every object unchanged reuses the reference, and CloudFront then
// returns the earlier invalidation instead of purging the cache again.
func contentReference(distributionID string, paths, keys []string, etags []any) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n", distributionID, strings.Join(paths, ","))
	for i, key := range keys {
		var etag any
		if i < len(etags) {
			etag = etags[i]
		}
		fmt.Fprintf(h, "%s=%v\n", key, etag)
	}
	return "sitetheory-" + hex.EncodeToString(h.Sum(nil))[:32]
}

func (e *Emitter) retain(policy graph.RemovalPolicy) pulumi.ResourceOption {
	return pulumi.RetainOnDelete(policy == graph.RemovalRetain)
}

// assetFiles returns the slash separated paths of every regular file under root, sorted.
func assetFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return defaultContentType
}

func missing(id, ref string) error {
	return fmt.Errorf("%w: %s needs %s", sitetheory.ErrDependencyUnavailable, id, ref)
}
