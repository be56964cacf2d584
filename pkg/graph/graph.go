// Package graph holds the engine-neutral description of the site stack: a small ordered
// set of typed resource descriptors, each tagged with the policy the apply walk uses when
// the engine fails to declare it.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/theory-cloud/sitetheory/pkg/naming"
)

// Policy decides whether a failure to declare a node aborts the whole stack.
type Policy string

const (
	PolicyFatal      Policy = "fatal"
	PolicyBestEffort Policy = "best-effort"
)

var (
	ErrDuplicateNode     = errors.New("graph: duplicate node")
	ErrUnknownDependency = errors.New("graph: unknown dependency")
	ErrInvalidNode       = errors.New("graph: invalid node")
	ErrUnknownFormat     = errors.New("graph: unknown render format")
)

// Node is one declared resource.
type Node struct {
	ID        string
	Kind      Kind
	Policy    Policy
	DependsOn []string
	Spec      Spec
}

// Graph is an ordered resource graph. Nodes may only depend on nodes added before them,
// so declaration order is always a valid apply order.
type Graph struct {
	Name    string
	Variant string

	nodes []*Node
	index map[string]*Node
}

func New(name, variant string) *Graph {
	return &Graph{
		Name:    name,
		Variant: variant,
		index:   map[string]*Node{},
	}
}

// Add appends a node. Dependencies are derived from the references held by spec.
func (g *Graph) Add(id string, policy Policy, spec Spec) (*Node, error) {
	id = strings.TrimSpace(id)
	if id == "" || spec == nil {
		return nil, fmt.Errorf("%w: node needs an id and a spec", ErrInvalidNode)
	}
	if policy != PolicyFatal && policy != PolicyBestEffort {
		return nil, fmt.Errorf("%w: %s has unknown policy %q", ErrInvalidNode, id, policy)
	}
	if _, exists := g.index[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	deps := spec.refs()
	for _, dep := range deps {
		if _, ok := g.index[dep]; !ok {
			return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, id, dep)
		}
	}

	node := &Node{
		ID:        id,
		Kind:      spec.Kind(),
		Policy:    policy,
		DependsOn: deps,
		Spec:      spec,
	}
	g.nodes = append(g.nodes, node)
	g.index[id] = node
	return node, nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.index[id]
	return n, ok
}

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	return slices.Clone(g.nodes)
}

// Of returns the nodes of one kind in declaration order.
func (g *Graph) Of(kind Kind) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// ValidationError lists every invariant violated by a graph.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "graph: invalid: " + strings.Join(e.Problems, "; ")
}

// Validate checks the cross-resource invariants of the site stack.
func (g *Graph) Validate() error {
	v := &validator{g: g}
	for _, n := range g.nodes {
		switch spec := n.Spec.(type) {
		case BucketSpec:
			v.bucket(n, spec)
		case ZoneRef:
			v.zone(n, spec)
		case CertificateSpec:
			v.certificate(n, spec)
		case DistributionSpec:
			v.distribution(n, spec)
		case AliasRecordSpec:
			v.aliasRecord(n, spec)
		case DeploymentSpec:
			v.deployment(n, spec)
		default:
			v.addf("%s: unsupported spec %T", n.ID, n.Spec)
		}
	}
	if len(v.problems) > 0 {
		return &ValidationError{Problems: v.problems}
	}
	return nil
}

type validator struct {
	g        *Graph
	problems []string
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) ref(owner, id string, kind Kind) *Node {
	n, ok := v.g.index[id]
	if !ok {
		v.addf("%s: reference %q does not exist", owner, id)
		return nil
	}
	if n.Kind != kind {
		v.addf("%s: reference %q is a %s, want %s", owner, id, n.Kind, kind)
		return nil
	}
	return n
}

func (v *validator) bucket(n *Node, spec BucketSpec) {
	if strings.TrimSpace(spec.Name) == "" {
		v.addf("%s: bucket name is empty", n.ID)
	}
	if spec.IndexDocument == "" {
		v.addf("%s: index document is empty", n.ID)
	}
	if spec.RemovalPolicy != RemovalDestroy {
		v.addf("%s: removal policy %q, want %q", n.ID, spec.RemovalPolicy, RemovalDestroy)
	}
}

func (v *validator) zone(n *Node, spec ZoneRef) {
	if spec.ID == "" || spec.Name == "" {
		v.addf("%s: zone reference needs both id and name", n.ID)
	}
}

func (v *validator) certificate(n *Node, spec CertificateSpec) {
	if spec.DomainName == "" {
		v.addf("%s: certificate domain is empty", n.ID)
	}
	if spec.Region != naming.CertificateRegion {
		v.addf("%s: certificate region %q, want %q", n.ID, spec.Region, naming.CertificateRegion)
	}
	v.ref(n.ID, spec.ZoneID, KindZone)
}

func (v *validator) distribution(n *Node, spec DistributionSpec) {
	v.ref(n.ID, spec.OriginID, KindBucket)
	if !spec.DefaultBehavior {
		v.addf("%s: distribution has no default behavior", n.ID)
	}
	alias := spec.Alias
	if alias == nil {
		return
	}
	if (alias.CertificateARN == "") == (alias.CertificateID == "") {
		v.addf("%s: alias needs exactly one of certificate ARN or certificate node", n.ID)
	}
	if len(alias.Names) == 0 {
		v.addf("%s: alias has no names", n.ID)
	}
	if alias.CertificateID == "" {
		return
	}
	cert := v.ref(n.ID, alias.CertificateID, KindCertificate)
	if cert == nil {
		return
	}
	certSpec, _ := cert.Spec.(CertificateSpec)
	for _, name := range alias.Names {
		if !naming.Covers(certSpec.DomainName, name) {
			v.addf("%s: certificate %s (%s) does not cover %s", n.ID, cert.ID, certSpec.DomainName, name)
		}
	}
}

func (v *validator) aliasRecord(n *Node, spec AliasRecordSpec) {
	if spec.RecordName == "" {
		v.addf("%s: record name is empty", n.ID)
	}
	if zone := v.ref(n.ID, spec.ZoneID, KindZone); zone != nil {
		zoneSpec, _ := zone.Spec.(ZoneRef)
		if zoneSpec.Name != "" && !strings.HasSuffix(strings.TrimSuffix(spec.RecordName, "."), "."+strings.TrimSuffix(zoneSpec.Name, ".")) {
			v.addf("%s: record %s is outside zone %s", n.ID, spec.RecordName, zoneSpec.Name)
		}
	}
	target := v.ref(n.ID, spec.TargetID, KindDistribution)
	if target == nil {
		return
	}
	dist, _ := target.Spec.(DistributionSpec)
	if dist.Alias != nil && !slices.Contains(dist.Alias.Names, spec.RecordName) {
		v.addf("%s: record %s is not an alias name of %s %v", n.ID, spec.RecordName, target.ID, dist.Alias.Names)
	}
}

func (v *validator) deployment(n *Node, spec DeploymentSpec) {
	if spec.SourcePath == "" {
		v.addf("%s: source path is empty", n.ID)
	}
	v.ref(n.ID, spec.BucketID, KindBucket)
	if spec.DistributionID == "" {
		if len(spec.InvalidationPaths) > 0 {
			v.addf("%s: invalidation paths without a distribution", n.ID)
		}
		return
	}
	v.ref(n.ID, spec.DistributionID, KindDistribution)
	if len(spec.InvalidationPaths) == 0 {
		v.addf("%s: distribution %s referenced without invalidation paths", n.ID, spec.DistributionID)
	}
	for _, p := range spec.InvalidationPaths {
		if !strings.HasPrefix(p, "/") {
			v.addf("%s: invalidation path %q must start with /", n.ID, p)
		}
	}
}

type document struct {
	Stack     string         `json:"stack" yaml:"stack"`
	Variant   string         `json:"variant" yaml:"variant"`
	Resources []documentNode `json:"resources" yaml:"resources"`
}

type documentNode struct {
	ID        string   `json:"id" yaml:"id"`
	Kind      Kind     `json:"kind" yaml:"kind"`
	Policy    Policy   `json:"policy" yaml:"policy"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Spec      Spec     `json:"spec" yaml:"spec"`
}

// Render serializes the graph as "yaml" or "json" for review.
func (g *Graph) Render(format string) ([]byte, error) {
	doc := document{
		Stack:     g.Name,
		Variant:   g.Variant,
		Resources: make([]documentNode, 0, len(g.nodes)),
	}
	for _, n := range g.nodes {
		doc.Resources = append(doc.Resources, documentNode{
			ID:        n.ID,
			Kind:      n.Kind,
			Policy:    n.Policy,
			DependsOn: n.DependsOn,
			Spec:      n.Spec,
		})
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml", "":
		return yaml.Marshal(doc)
	case "json":
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}
