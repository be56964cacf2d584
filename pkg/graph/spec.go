package graph

// Kind names the resource type of a node.
type Kind string

const (
	KindBucket       Kind = "bucket"
	KindZone         Kind = "zone"
	KindCertificate  Kind = "certificate"
	KindDistribution Kind = "distribution"
	KindAliasRecord  Kind = "alias-record"
	KindDeployment   Kind = "deployment"
)

// RemovalPolicy describes what happens to a resource when its stack is torn down.
type RemovalPolicy string

const (
	RemovalDestroy RemovalPolicy = "destroy"
	RemovalRetain  RemovalPolicy = "retain"
)

// Spec is the typed descriptor carried by a node.
type Spec interface {
	Kind() Kind
	refs() []string
}

// BucketSpec describes the storage bucket holding the site assets.
type BucketSpec struct {
	Name              string        `json:"name" yaml:"name"`
	PublicRead        bool          `json:"public_read" yaml:"public_read"`
	IndexDocument     string        `json:"index_document" yaml:"index_document"`
	RemovalPolicy     RemovalPolicy `json:"removal_policy" yaml:"removal_policy"`
	AutoDeleteObjects bool          `json:"auto_delete_objects" yaml:"auto_delete_objects"`
}

func (BucketSpec) Kind() Kind     { return KindBucket }
func (BucketSpec) refs() []string { return nil }

// ZoneRef identifies an existing hosted zone. It is referenced, never created.
type ZoneRef struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

func (ZoneRef) Kind() Kind     { return KindZone }
func (ZoneRef) refs() []string { return nil }

// CertificateSpec describes a DNS-validated certificate requested in a fixed region.
type CertificateSpec struct {
	DomainName string `json:"domain_name" yaml:"domain_name"`
	ZoneID     string `json:"zone" yaml:"zone"`
	Region     string `json:"region" yaml:"region"`
}

func (CertificateSpec) Kind() Kind       { return KindCertificate }
func (s CertificateSpec) refs() []string { return compact(s.ZoneID) }

// AliasConfig binds a certificate and hostnames to a distribution. Exactly one of
// CertificateARN (pre-issued) or CertificateID (a certificate node) is set.
type AliasConfig struct {
	CertificateARN string   `json:"certificate_arn,omitempty" yaml:"certificate_arn,omitempty"`
	CertificateID  string   `json:"certificate,omitempty" yaml:"certificate,omitempty"`
	Names          []string `json:"names" yaml:"names"`
}

// DistributionSpec describes the CDN frontend of the bucket.
type DistributionSpec struct {
	OriginID        string       `json:"origin" yaml:"origin"`
	DefaultBehavior bool         `json:"default_behavior" yaml:"default_behavior"`
	Alias           *AliasConfig `json:"alias,omitempty" yaml:"alias,omitempty"`
}

func (DistributionSpec) Kind() Kind { return KindDistribution }
func (s DistributionSpec) refs() []string {
	out := compact(s.OriginID)
	if s.Alias != nil {
		out = append(out, compact(s.Alias.CertificateID)...)
	}
	return out
}

// AliasRecordSpec describes the DNS alias binding the subdomain to a distribution.
type AliasRecordSpec struct {
	ZoneID     string `json:"zone" yaml:"zone"`
	RecordName string `json:"record_name" yaml:"record_name"`
	TargetID   string `json:"target" yaml:"target"`
}

func (AliasRecordSpec) Kind() Kind       { return KindAliasRecord }
func (s AliasRecordSpec) refs() []string { return compact(s.ZoneID, s.TargetID) }

// DeploymentSpec describes the asset upload and the cache invalidation that follows it.
type DeploymentSpec struct {
	SourcePath        string   `json:"source_path" yaml:"source_path"`
	BucketID          string   `json:"bucket" yaml:"bucket"`
	DistributionID    string   `json:"distribution,omitempty" yaml:"distribution,omitempty"`
	InvalidationPaths []string `json:"invalidation_paths,omitempty" yaml:"invalidation_paths,omitempty"`
}

func (DeploymentSpec) Kind() Kind       { return KindDeployment }
func (s DeploymentSpec) refs() []string { return compact(s.BucketID, s.DistributionID) }

func compact(ids ...string) []string {
	var out []string
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
