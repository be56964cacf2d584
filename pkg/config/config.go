// Package config loads the typed inputs of the site stack from the environment and an
// optional YAML file, and validates them before anything is declared.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/theory-cloud/sitetheory/pkg/naming"
)

// Environment variable names.
const (
	EnvProject           = "PROJECT"
	EnvStage             = "STAGE"
	EnvHostedZoneID      = "AWS_HOSTED_ZONE_ID"
	EnvHostedZoneName    = "AWS_HOSTED_ZONE_NAME"
	EnvCertificateARN    = "AWS_CERTIFICATE_ARN"
	EnvVariant           = "SITE_VARIANT"
	EnvAliasRecordPolicy = "SITE_ALIAS_RECORD_POLICY"
	EnvAssetPath         = "SITE_ASSET_PATH"
	EnvAccount           = "CDK_DEFAULT_ACCOUNT"
	EnvRegion            = "CDK_DEFAULT_REGION"
)

// DefaultAssetPath is the pre-built site directory, relative to the working directory of the engine.
const DefaultAssetPath = "../dist"

// Variant selects how TLS and the custom hostname are attached to the distribution.
type Variant string

const (
	// VariantDefaultHostname serves the site from the distribution's provider hostname.
	VariantDefaultHostname Variant = "default-hostname"
	// VariantImportedCertificate binds a pre-issued certificate given by ARN.
	VariantImportedCertificate Variant = "imported-certificate"
	// VariantManagedCertificate requests a DNS-validated wildcard certificate alongside the stack.
	VariantManagedCertificate Variant = "managed-certificate"
)

// ParseVariant accepts the canonical names and the short forms a, b and c.
func ParseVariant(value string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "a", string(VariantDefaultHostname):
		return VariantDefaultHostname, nil
	case "b", string(VariantImportedCertificate):
		return VariantImportedCertificate, nil
	case "c", string(VariantManagedCertificate):
		return VariantManagedCertificate, nil
	default:
		return "", fmt.Errorf("unknown variant %q", value)
	}
}

// AliasPolicy controls whether a failure to declare the DNS alias record aborts the stack.
type AliasPolicy string

const (
	// AliasPolicyDefault leaves the choice to the variant: best-effort for managed certificates, fatal otherwise.
	AliasPolicyDefault    AliasPolicy = ""
	AliasPolicyFatal      AliasPolicy = "fatal"
	AliasPolicyBestEffort AliasPolicy = "best-effort"
)

func parseAliasPolicy(value string) (AliasPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return AliasPolicyDefault, nil
	case "fatal":
		return AliasPolicyFatal, nil
	case "best-effort", "besteffort", "warn":
		return AliasPolicyBestEffort, nil
	default:
		return "", fmt.Errorf("unknown alias record policy %q", value)
	}
}

// Config holds every input of the stack definition.
type Config struct {
	Project        string `yaml:"project"`
	Stage          string `yaml:"stage"`
	HostedZoneID   string `yaml:"hosted_zone_id"`
	HostedZoneName string `yaml:"hosted_zone_name"`
	CertificateARN string `yaml:"certificate_arn"`

	Variant           Variant     `yaml:"variant"`
	AliasRecordPolicy AliasPolicy `yaml:"alias_record_policy"`
	AssetPath         string      `yaml:"asset_path"`

	Account string `yaml:"account"`
	Region  string `yaml:"region"`
}

// ConfigurationError lists every missing or invalid input found during validation.
type ConfigurationError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, "; "))
	}
	return "config: " + strings.Join(parts, "; ")
}

func (e *ConfigurationError) empty() bool {
	return len(e.Missing) == 0 && len(e.Invalid) == 0
}

// Load reads the configuration from the environment. A nil lookup uses os.LookupEnv.
func Load(lookup func(string) (string, bool)) (Config, error) {
	return overlayEnv(Config{}, lookup).finalize()
}

// LoadFile reads a YAML configuration file and overlays the environment on top of it.
func LoadFile(path string, lookup func(string) (string, bool)) (Config, error) {
	//nolint:gosec // Path is supplied by the operator on the command line.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	base, err := Decode(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return overlayEnv(base, lookup).finalize()
}

// Decode parses a YAML document into a Config, rejecting unknown keys.
func Decode(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

func overlayEnv(cfg Config, lookup func(string) (string, bool)) Config {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&cfg.Project, EnvProject)
	set(&cfg.Stage, EnvStage)
	set(&cfg.HostedZoneID, EnvHostedZoneID)
	set(&cfg.HostedZoneName, EnvHostedZoneName)
	set(&cfg.CertificateARN, EnvCertificateARN)
	set(&cfg.AssetPath, EnvAssetPath)
	set(&cfg.Account, EnvAccount)
	set(&cfg.Region, EnvRegion)

	var variant, policy string
	set(&variant, EnvVariant)
	set(&policy, EnvAliasRecordPolicy)
	if variant != "" {
		cfg.Variant = Variant(variant)
	}
	if policy != "" {
		cfg.AliasRecordPolicy = AliasPolicy(policy)
	}
	return cfg
}

type requiredField struct {
	key   string
	value string
}

func (c Config) finalize() (Config, error) {
	c.Project = strings.TrimSpace(c.Project)
	c.Stage = strings.TrimSpace(c.Stage)
	c.HostedZoneID = strings.TrimSpace(c.HostedZoneID)
	c.HostedZoneName = strings.TrimSuffix(strings.TrimSpace(c.HostedZoneName), ".")
	c.CertificateARN = strings.TrimSpace(c.CertificateARN)
	c.AssetPath = strings.TrimSpace(c.AssetPath)
	c.Account = strings.TrimSpace(c.Account)
	c.Region = strings.TrimSpace(c.Region)
	if c.AssetPath == "" {
		c.AssetPath = DefaultAssetPath
	}

	cerr := &ConfigurationError{}

	switch {
	case strings.TrimSpace(string(c.Variant)) != "":
		v, err := ParseVariant(string(c.Variant))
		if err != nil {
			cerr.Invalid = append(cerr.Invalid, fmt.Sprintf("%s=%q", EnvVariant, c.Variant))
		}
		c.Variant = v
	case c.CertificateARN != "":
		c.Variant = VariantImportedCertificate
	default:
		c.Variant = VariantDefaultHostname
	}

	policy, err := parseAliasPolicy(string(c.AliasRecordPolicy))
	if err != nil {
		cerr.Invalid = append(cerr.Invalid, fmt.Sprintf("%s=%q", EnvAliasRecordPolicy, c.AliasRecordPolicy))
	}
	c.AliasRecordPolicy = policy

	required := []requiredField{
		{EnvProject, c.Project},
		{EnvStage, c.Stage},
		{EnvHostedZoneID, c.HostedZoneID},
		{EnvHostedZoneName, c.HostedZoneName},
	}
	if c.Variant == VariantImportedCertificate {
		required = append(required, requiredField{EnvCertificateARN, c.CertificateARN})
	}
	for _, r := range required {
		if r.value == "" {
			cerr.Missing = append(cerr.Missing, r.key)
		}
	}

	if c.Variant == VariantImportedCertificate && c.CertificateARN != "" {
		if problem := checkCertificateARN(c.CertificateARN); problem != "" {
			cerr.Invalid = append(cerr.Invalid, fmt.Sprintf("%s: %s", EnvCertificateARN, problem))
		}
	}

	if !cerr.empty() {
		return c, cerr
	}
	return c, nil
}

// AliasPolicyFor resolves the effective alias record policy of the configured variant.
func (c Config) AliasPolicyFor() AliasPolicy {
	if c.AliasRecordPolicy != AliasPolicyDefault {
		return c.AliasRecordPolicy
	}
	if c.Variant == VariantManagedCertificate {
		return AliasPolicyBestEffort
	}
	return AliasPolicyFatal
}

// CertificateRegion returns the region segment of an ACM certificate ARN.
func CertificateRegion(arn string) string {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) < 6 {
		return ""
	}
	return parts[3]
}

func checkCertificateARN(arn string) string {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) < 6 || parts[0] != "arn" || parts[2] != "acm" || !strings.HasPrefix(parts[5], "certificate/") {
		return "not an ACM certificate ARN"
	}
	if parts[3] != naming.CertificateRegion {
		return fmt.Sprintf("certificate must be issued in %s, got %s", naming.CertificateRegion, parts[3])
	}
	return ""
}
