package cdkstack

import (
	"context"
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscertificatemanager"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscloudfront"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsroute53"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsroute53targets"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3deployment"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"github.com/theory-cloud/sitetheory"
	"github.com/theory-cloud/sitetheory/pkg/graph"
)

// Emitter declares graph nodes as CDK constructs inside one scope.
type Emitter struct {
	scope constructs.Construct

	buckets       map[string]awss3.Bucket
	zones         map[string]awsroute53.IHostedZone
	certificates  map[string]awscertificatemanager.ICertificate
	distributions map[string]awscloudfront.CloudFrontWebDistribution
}

var _ sitetheory.Emitter = (*Emitter)(nil)

func NewEmitter(scope constructs.Construct) *Emitter {
	return &Emitter{
		scope:         scope,
		buckets:       map[string]awss3.Bucket{},
		zones:         map[string]awsroute53.IHostedZone{},
		certificates:  map[string]awscertificatemanager.ICertificate{},
		distributions: map[string]awscloudfront.CloudFrontWebDistribution{},
	}
}

func (e *Emitter) Emit(_ context.Context, node *graph.Node) error {
	switch spec := node.Spec.(type) {
	case graph.BucketSpec:
		e.bucket(node.ID, spec)
	case graph.ZoneRef:
		e.zone(node.ID, spec)
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
	return nil
}

// Bucket returns the bucket declared for a node id.
func (e *Emitter) Bucket(id string) (awss3.Bucket, bool) {
	b, ok := e.buckets[id]
	return b, ok
}

// Distribution returns the distribution declared for a node id.
func (e *Emitter) Distribution(id string) (awscloudfront.CloudFrontWebDistribution, bool) {
	d, ok := e.distributions[id]
	return d, ok
}

func (e *Emitter) bucket(id string, spec graph.BucketSpec) {
	props := &awss3.BucketProps{
		PublicReadAccess:     jsii.Bool(spec.PublicRead),
		WebsiteIndexDocument: jsii.String(spec.IndexDocument),
		RemovalPolicy:        removalPolicy(spec.RemovalPolicy),
		AutoDeleteObjects:    jsii.Bool(spec.AutoDeleteObjects && spec.RemovalPolicy == graph.RemovalDestroy),
	}
	if spec.PublicRead {
		// Public bucket policies are blocked by default on new buckets.
		props.BlockPublicAccess = awss3.NewBlockPublicAccess(&awss3.BlockPublicAccessOptions{
			BlockPublicAcls:       jsii.Bool(true),
			IgnorePublicAcls:      jsii.Bool(true),
			BlockPublicPolicy:     jsii.Bool(false),
			RestrictPublicBuckets: jsii.Bool(false),
		})
	}
	e.buckets[id] = awss3.NewBucket(e.scope, jsii.String(id), props)
}

func (e *Emitter) zone(id string, spec graph.ZoneRef) {
	e.zones[id] = awsroute53.HostedZone_FromHostedZoneAttributes(e.scope, jsii.String(id), &awsroute53.HostedZoneAttributes{
		HostedZoneId: jsii.String(spec.ID),
		ZoneName:     jsii.String(spec.Name),
	})
}

func (e *Emitter) certificate(id string, spec graph.CertificateSpec) error {
	zone, ok := e.zones[spec.ZoneID]
	if !ok {
		return missing(id, spec.ZoneID)
	}
	//nolint:staticcheck // DnsValidatedCertificate is the construct that can issue outside the stack region.
	e.certificates[id] = awscertificatemanager.NewDnsValidatedCertificate(e.scope, jsii.String(id), &awscertificatemanager.DnsValidatedCertificateProps{
		DomainName: jsii.String(spec.DomainName),
		HostedZone: zone,
		Region:     jsii.String(spec.Region),
	})
	return nil
}

func (e *Emitter) distribution(id string, spec graph.DistributionSpec) error {
	bucket, ok := e.buckets[spec.OriginID]
	if !ok {
		return missing(id, spec.OriginID)
	}
	props := &awscloudfront.CloudFrontWebDistributionProps{
		OriginConfigs: &[]*awscloudfront.SourceConfiguration{{
			S3OriginSource: &awscloudfront.S3OriginConfig{S3BucketSource: bucket},
			Behaviors:      &[]*awscloudfront.Behavior{{IsDefaultBehavior: jsii.Bool(spec.DefaultBehavior)}},
		}},
	}
	if alias := spec.Alias; alias != nil {
		var cert awscertificatemanager.ICertificate
		if alias.CertificateARN != "" {
			cert = awscertificatemanager.Certificate_FromCertificateArn(e.scope, jsii.String(id+"Certificate"), jsii.String(alias.CertificateARN))
		} else {
			var ok bool
			if cert, ok = e.certificates[alias.CertificateID]; !ok {
				return missing(id, alias.CertificateID)
			}
		}
		props.ViewerCertificate = awscloudfront.ViewerCertificate_FromAcmCertificate(cert, &awscloudfront.ViewerCertificateOptions{
			Aliases: jsii.Strings(alias.Names...),
		})
	}
	e.distributions[id] = awscloudfront.NewCloudFrontWebDistribution(e.scope, jsii.String(id), props)
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
	awsroute53.NewARecord(e.scope, jsii.String(id), &awsroute53.ARecordProps{
		Zone:       zone,
		RecordName: jsii.String(spec.RecordName),
		Target:     awsroute53.RecordTarget_FromAlias(awsroute53targets.NewCloudFrontTarget(dist)),
	})
	return nil
}

func (e *Emitter) deployment(id string, spec graph.DeploymentSpec) error {
	bucket, ok := e.buckets[spec.BucketID]
	if !ok {
		return missing(id, spec.BucketID)
	}
	props := &awss3deployment.BucketDeploymentProps{
		Sources:           &[]awss3deployment.ISource{awss3deployment.Source_Asset(jsii.String(spec.SourcePath), nil)},
		DestinationBucket: bucket,
	}
	if spec.DistributionID != "" {
		dist, ok := e.distributions[spec.DistributionID]
		if !ok {
			return missing(id, spec.DistributionID)
		}
		props.Distribution = dist
		props.DistributionPaths = jsii.Strings(spec.InvalidationPaths...)
	}
	awss3deployment.NewBucketDeployment(e.scope, jsii.String(id), props)
	return nil
}

func removalPolicy(p graph.RemovalPolicy) awscdk.RemovalPolicy {
	if p == graph.RemovalDestroy {
		return awscdk.RemovalPolicy_DESTROY
	}
	return awscdk.RemovalPolicy_RETAIN
}

func missing(id, ref string) error {
	return fmt.Errorf("%w: %s needs %s", sitetheory.ErrDependencyUnavailable, id, ref)
}
