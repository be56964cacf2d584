package graph

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"pgregory.net/rapid"
)

const subDomain = "earthdata-dashboard.example.org"

func managedGraph(t *testing.T) *Graph {
	t.Helper()

	g := New("earthdata-dashboard-veda-dev", "managed-certificate")
	mustAdd(t, g, "Bucket", PolicyFatal, BucketSpec{
		Name: "earthdata-dashboard-veda-dev", PublicRead: true, IndexDocument: "index.html", RemovalPolicy: RemovalDestroy,
	})
	mustAdd(t, g, "Zone", PolicyFatal, ZoneRef{ID: "Z1", Name: "example.org"})
	mustAdd(t, g, "Certificate", PolicyFatal, CertificateSpec{DomainName: "*.example.org", ZoneID: "Zone", Region: "us-east-1"})
	mustAdd(t, g, "Distribution", PolicyFatal, DistributionSpec{
		OriginID: "Bucket", DefaultBehavior: true,
		Alias: &AliasConfig{CertificateID: "Certificate", Names: []string{subDomain}},
	})
	mustAdd(t, g, "AliasRecord", PolicyBestEffort, AliasRecordSpec{ZoneID: "Zone", RecordName: subDomain, TargetID: "Distribution"})
	mustAdd(t, g, "Deployment", PolicyFatal, DeploymentSpec{
		SourcePath: "../dist", BucketID: "Bucket", DistributionID: "Distribution", InvalidationPaths: []string{"/*"},
	})
	return g
}

func mustAdd(t *testing.T, g *Graph, id string, policy Policy, spec Spec) {
	t.Helper()
	_, err := g.Add(id, policy, spec)
	require.NoError(t, err)
}

func TestAdd_DerivesDependencies(t *testing.T) {
	t.Parallel()

	g := managedGraph(t)
	dist, ok := g.Node("Distribution")
	require.True(t, ok)
	require.Equal(t, KindDistribution, dist.Kind)
	require.Equal(t, []string{"Bucket", "Certificate"}, dist.DependsOn)

	deploy, ok := g.Node("Deployment")
	require.True(t, ok)
	require.Equal(t, []string{"Bucket", "Distribution"}, deploy.DependsOn)

	require.Len(t, g.Nodes(), 6)
	require.Len(t, g.Of(KindAliasRecord), 1)
	require.Empty(t, g.Of(Kind("queue")))
}

func TestAdd_Rejects(t *testing.T) {
	t.Parallel()

	g := New("s", "default-hostname")
	_, err := g.Add("", PolicyFatal, ZoneRef{})
	require.ErrorIs(t, err, ErrInvalidNode)
	_, err = g.Add("Zone", PolicyFatal, nil)
	require.ErrorIs(t, err, ErrInvalidNode)
	_, err = g.Add("Zone", Policy("maybe"), ZoneRef{})
	require.ErrorIs(t, err, ErrInvalidNode)

	mustAdd(t, g, "Zone", PolicyFatal, ZoneRef{ID: "Z", Name: "example.org"})
	_, err = g.Add("Zone", PolicyFatal, ZoneRef{})
	require.ErrorIs(t, err, ErrDuplicateNode)

	_, err = g.Add("Record", PolicyFatal, AliasRecordSpec{ZoneID: "Zone", RecordName: subDomain, TargetID: "Distribution"})
	require.ErrorIs(t, err, ErrUnknownDependency)
	_, ok := g.Node("Record")
	require.False(t, ok)
}

func TestValidate_ManagedGraphIsValid(t *testing.T) {
	t.Parallel()

	require.NoError(t, managedGraph(t).Validate())
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Parallel()

	g := New("s", "managed-certificate")
	mustAdd(t, g, "Bucket", PolicyFatal, BucketSpec{Name: "b", IndexDocument: "index.html", RemovalPolicy: RemovalRetain})
	mustAdd(t, g, "Zone", PolicyFatal, ZoneRef{ID: "Z", Name: "example.org"})
	mustAdd(t, g, "Certificate", PolicyFatal, CertificateSpec{DomainName: "*.other.org", ZoneID: "Zone", Region: "eu-west-1"})
	mustAdd(t, g, "Distribution", PolicyFatal, DistributionSpec{
		OriginID: "Bucket", DefaultBehavior: true,
		Alias: &AliasConfig{CertificateID: "Certificate", Names: []string{"www.example.org"}},
	})
	mustAdd(t, g, "AliasRecord", PolicyFatal, AliasRecordSpec{ZoneID: "Zone", RecordName: subDomain, TargetID: "Distribution"})
	mustAdd(t, g, "Deployment", PolicyFatal, DeploymentSpec{SourcePath: "../dist", BucketID: "Bucket", DistributionID: "Distribution"})

	err := g.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	joined := strings.Join(verr.Problems, "\n")
	require.Contains(t, joined, `removal policy "retain"`)
	require.Contains(t, joined, `certificate region "eu-west-1"`)
	require.Contains(t, joined, "does not cover www.example.org")
	require.Contains(t, joined, "is not an alias name of Distribution")
	require.Contains(t, joined, "without invalidation paths")
	require.Len(t, verr.Problems, 5)
}

func TestValidate_ReferenceKindsAndAliasShape(t *testing.T) {
	t.Parallel()

	g := New("s", "imported-certificate")
	mustAdd(t, g, "Bucket", PolicyFatal, BucketSpec{Name: "b", IndexDocument: "index.html", RemovalPolicy: RemovalDestroy})
	mustAdd(t, g, "Zone", PolicyFatal, ZoneRef{ID: "Z", Name: "example.org"})
	mustAdd(t, g, "Distribution", PolicyFatal, DistributionSpec{
		OriginID: "Zone",
		Alias:    &AliasConfig{CertificateARN: "arn", CertificateID: "Bucket"},
	})
	mustAdd(t, g, "AliasRecord", PolicyFatal, AliasRecordSpec{ZoneID: "Zone", RecordName: "earthdata-dashboard.elsewhere.net", TargetID: "Bucket"})
	mustAdd(t, g, "Deployment", PolicyFatal, DeploymentSpec{SourcePath: "../dist", BucketID: "Bucket", InvalidationPaths: []string{"*"}})

	var verr *ValidationError
	require.True(t, errors.As(g.Validate(), &verr))
	joined := strings.Join(verr.Problems, "\n")
	require.Contains(t, joined, `reference "Zone" is a zone, want bucket`)
	require.Contains(t, joined, "no default behavior")
	require.Contains(t, joined, "exactly one of certificate ARN or certificate node")
	require.Contains(t, joined, "alias has no names")
	require.Contains(t, joined, `reference "Bucket" is a bucket, want certificate`)
	require.Contains(t, joined, "outside zone example.org")
	require.Contains(t, joined, `reference "Bucket" is a bucket, want distribution`)
	require.Contains(t, joined, "invalidation paths without a distribution")
}

func TestRender_YAMLAndJSON(t *testing.T) {
	t.Parallel()

	g := managedGraph(t)

	out, err := g.Render("yaml")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))
	require.Equal(t, "earthdata-dashboard-veda-dev", doc["stack"])
	resources, ok := doc["resources"].([]any)
	require.True(t, ok)
	require.Len(t, resources, 6)
	cert, ok := resources[2].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "certificate", cert["kind"])
	spec, ok := cert["spec"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "us-east-1", spec["region"])

	out, err = g.Render("JSON")
	require.NoError(t, err)
	var parsed struct {
		Resources []struct {
			ID     string         `json:"id"`
			Policy string         `json:"policy"`
			Spec   map[string]any `json:"spec"`
		} `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(out, &parsed))
	require.Equal(t, "AliasRecord", parsed.Resources[4].ID)
	require.Equal(t, "best-effort", parsed.Resources[4].Policy)
	require.Equal(t, []any{"/*"}, parsed.Resources[5].Spec["invalidation_paths"])

	_, err = g.Render("toml")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestProperty_DeclarationOrderIsTopological(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := New("s", "x")
		ids := []string{}
		count := rapid.IntRange(1, 12).Draw(t, "count")
		for i := 0; i < count; i++ {
			var spec Spec = BucketSpec{Name: "b", IndexDocument: "index.html", RemovalPolicy: RemovalDestroy}
			if len(ids) > 0 && rapid.Bool().Draw(t, "deploy") {
				bucket := rapid.SampledFrom(ids).Draw(t, "bucket")
				spec = DeploymentSpec{SourcePath: "../dist", BucketID: bucket}
			}
			id := rapid.StringMatching(`[A-Z][a-z]{0,6}`).Draw(t, "id")
			if _, err := g.Add(id, PolicyFatal, spec); err != nil {
				continue
			}
			if spec.Kind() == KindBucket {
				ids = append(ids, id)
			}
		}

		seen := map[string]bool{}
		for _, n := range g.Nodes() {
			for _, dep := range n.DependsOn {
				if !seen[dep] {
					t.Fatalf("%s depends on %s declared later", n.ID, dep)
				}
			}
			seen[n.ID] = true
		}
	})
}
