// Package sitetheory declares the earthdata-dashboard static site: a public website
// bucket, an optional certificate, a CDN distribution, a DNS alias record and an asset
// deployment. Define turns a validated configuration into an engine-neutral resource
// graph; Apply walks that graph through a provisioning engine.
package sitetheory

import (
	"fmt"
	"slices"

	"github.com/theory-cloud/sitetheory/pkg/config"
	"github.com/theory-cloud/sitetheory/pkg/graph"
	"github.com/theory-cloud/sitetheory/pkg/naming"
)

// Node ids of the declared resources. The bucket node is named after the bucket itself.
const (
	NodeZone         = "Zone"
	NodeCertificate  = "Certificate"
	NodeDistribution = "Distribution"
	NodeAliasRecord  = "AliasRecord"
	NodeDeployment   = "Deployment"
)

const indexDocument = "index.html"

// InvalidationPaths returns the paths purged from the distribution after each deployment.
func InvalidationPaths() []string {
	return []string{"/*"}
}

// Define builds the resource graph for the configured variant.
func Define(cfg config.Config) (*graph.Graph, error) {
	g := graph.New(naming.StackName(cfg.Project, cfg.Stage), string(cfg.Variant))
	subDomain := naming.SubDomain(cfg.HostedZoneName)
	bucketID := naming.BucketName(cfg.Project, cfg.Stage)

	var aliasPolicy graph.Policy
	switch cfg.AliasPolicyFor() {
	case config.AliasPolicyBestEffort:
		aliasPolicy = graph.PolicyBestEffort
	default:
		aliasPolicy = graph.PolicyFatal
	}

	dist := graph.DistributionSpec{
		OriginID:        bucketID,
		DefaultBehavior: true,
	}

	b := &builder{g: g}
	b.add(bucketID, graph.PolicyFatal, graph.BucketSpec{
		Name:              bucketID,
		PublicRead:        true,
		IndexDocument:     indexDocument,
		RemovalPolicy:     graph.RemovalDestroy,
		AutoDeleteObjects: true,
	})
	b.add(NodeZone, graph.PolicyFatal, graph.ZoneRef{
		ID:   cfg.HostedZoneID,
		Name: cfg.HostedZoneName,
	})

	switch cfg.Variant {
	case config.VariantDefaultHostname:
	case config.VariantImportedCertificate:
		dist.Alias = &graph.AliasConfig{
			CertificateARN: cfg.CertificateARN,
			Names:          []string{subDomain},
		}
	case config.VariantManagedCertificate:
		b.add(NodeCertificate, graph.PolicyFatal, graph.CertificateSpec{
			DomainName: naming.WildcardDomain(cfg.HostedZoneName),
			ZoneID:     NodeZone,
			Region:     naming.CertificateRegion,
		})
		dist.Alias = &graph.AliasConfig{
			CertificateID: NodeCertificate,
			Names:         []string{subDomain},
		}
	default:
		return nil, fmt.Errorf("sitetheory: unsupported variant %q", cfg.Variant)
	}

	b.add(NodeDistribution, graph.PolicyFatal, dist)
	b.add(NodeAliasRecord, aliasPolicy, graph.AliasRecordSpec{
		ZoneID:     NodeZone,
		RecordName: subDomain,
		TargetID:   NodeDistribution,
	})
	b.add(NodeDeployment, graph.PolicyFatal, graph.DeploymentSpec{
		SourcePath:        cfg.AssetPath,
		BucketID:          bucketID,
		DistributionID:    NodeDistribution,
		InvalidationPaths: InvalidationPaths(),
	})
	if b.err != nil {
		return nil, b.err
	}
	return g, nil
}

type builder struct {
	g   *graph.Graph
	err error
}

func (b *builder) add(id string, policy graph.Policy, spec graph.Spec) {
	if b.err != nil {
		return
	}
	_, b.err = b.g.Add(id, policy, spec)
}

// SiteURL returns the public URL of the site when res declared an alias record whose target
// distribution serves that name. Without a distribution alias, as in the default-hostname
// variant, CloudFront rejects requests for the record name, so there is no site URL.
func SiteURL(g *graph.Graph, res *Result) (string, bool) {
	if g == nil || res == nil {
		return "", false
	}
	for _, n := range g.Of(graph.KindAliasRecord) {
		if !slices.Contains(res.Emitted, n.ID) {
			continue
		}
		rec, _ := n.Spec.(graph.AliasRecordSpec)
		target, ok := g.Node(rec.TargetID)
		if !ok {
			continue
		}
		dist, _ := target.Spec.(graph.DistributionSpec)
		if dist.Alias != nil && slices.Contains(dist.Alias.Names, rec.RecordName) {
			return naming.SiteURL(rec.RecordName), true
		}
	}
	return "", false
}
