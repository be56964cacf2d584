package naming

import (
	"regexp"
	"strings"
)

const (
	// SiteName prefixes every resource that belongs to the dashboard site.
	SiteName = "earthdata-dashboard"

	// CertificateRegion is the only region whose ACM certificates CloudFront can bind.
	CertificateRegion = "us-east-1"
)

var (
	nonAlnum  = regexp.MustCompile(`[^a-z0-9-]+`)
	multiDash = regexp.MustCompile(`-+`)
)

func sanitizePart(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, "_", "-")
	value = strings.ReplaceAll(value, " ", "-")
	value = nonAlnum.ReplaceAllString(value, "-")
	value = multiDash.ReplaceAllString(value, "-")
	value = strings.Trim(value, "-")
	return value
}

// NormalizeStage maps stage aliases to canonical values.
//
// Canonical stages are lowercased and safe for tag values. They are never used for the
// bucket identifier, which keeps the stage exactly as configured.
func NormalizeStage(stage string) string {
	stage = strings.ToLower(strings.TrimSpace(stage))
	switch stage {
	case "prod", "production", "live":
		return "live"
	case "dev", "development":
		return "dev"
	case "stg", "stage", "staging":
		return "stage"
	case "test", "testing":
		return "test"
	case "local":
		return "local"
	default:
		return sanitizePart(stage)
	}
}

// BucketName returns earthdata-dashboard-<project>-<stage> with both parts verbatim.
func BucketName(project, stage string) string {
	return SiteName + "-" + project + "-" + stage
}

// StackName returns a deterministic, CloudFormation-safe stack name:
// earthdata-dashboard-<project>-<stage>.
func StackName(project, stage string) string {
	parts := []string{SiteName}
	if p := sanitizePart(project); p != "" {
		parts = append(parts, p)
	}
	if s := sanitizePart(stage); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "-")
}

// SubDomain returns the host the site is served from inside the zone.
func SubDomain(zoneName string) string {
	return SiteName + "." + trimZone(zoneName)
}

// WildcardDomain returns the certificate domain covering every host in the zone.
func WildcardDomain(zoneName string) string {
	return "*." + trimZone(zoneName)
}

// SiteURL returns the https URL of the site for the given host.
func SiteURL(host string) string {
	return "https://" + trimZone(host)
}

// Covers reports whether a certificate domain (exact or single-label wildcard) covers host.
func Covers(certDomain, host string) bool {
	certDomain = strings.ToLower(trimZone(certDomain))
	host = strings.ToLower(trimZone(host))
	if certDomain == "" || host == "" {
		return false
	}
	if certDomain == host {
		return true
	}
	suffix, ok := strings.CutPrefix(certDomain, "*.")
	if !ok {
		return false
	}
	label, rest, found := strings.Cut(host, ".")
	return found && label != "" && rest == suffix
}

// SameZone compares zone names ignoring case and the trailing root dot.
func SameZone(a, b string) bool {
	return strings.EqualFold(trimZone(a), trimZone(b))
}

func trimZone(name string) string {
	return strings.TrimSuffix(strings.TrimSpace(name), ".")
}
