// Package preflight runs read-only checks of the hosted zone and certificate a site
// stack will reference, before any engine touches the account.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	acmtypes "github.com/aws/aws-sdk-go-v2/service/acm/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"

	"github.com/theory-cloud/sitetheory/pkg/config"
	"github.com/theory-cloud/sitetheory/pkg/naming"
)

var (
	ErrZoneMismatch          = errors.New("preflight: hosted zone name mismatch")
	ErrZonePrivate           = errors.New("preflight: hosted zone is private")
	ErrCertificateNotIssued  = errors.New("preflight: certificate is not issued")
	ErrCertificateMismatch   = errors.New("preflight: certificate does not cover the site host")
	ErrCertificateRegion     = errors.New("preflight: certificate is outside us-east-1")
	ErrCertificateExpiring   = errors.New("preflight: certificate expires soon")
	ErrCertificateLookupFail = errors.New("preflight: certificate lookup failed")
	ErrZoneLookupFail        = errors.New("preflight: hosted zone lookup failed")
)

// DefaultExpiryWindow is how close to expiry an imported certificate may be.
const DefaultExpiryWindow = 14 * 24 * time.Hour

type route53API interface {
	GetHostedZone(
		ctx context.Context,
		params *route53.GetHostedZoneInput,
		optFns ...func(*route53.Options),
	) (*route53.GetHostedZoneOutput, error)
}

type acmAPI interface {
	DescribeCertificate(
		ctx context.Context,
		params *acm.DescribeCertificateInput,
		optFns ...func(*acm.Options),
	) (*acm.DescribeCertificateOutput, error)
}

// Check is the outcome of a single preflight probe.
type Check struct {
	Name   string `json:"name" yaml:"name"`
	OK     bool   `json:"ok" yaml:"ok"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

type Report struct {
	Checks []Check `json:"checks" yaml:"checks"`
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

type Checker struct {
	zones  route53API
	certs  acmAPI
	now    func() time.Time
	window time.Duration
}

type checkerOptions struct {
	zones  route53API
	certs  acmAPI
	awsCfg *aws.Config
	now    func() time.Time
	window time.Duration
}

type Option func(*checkerOptions)

func WithAWSConfig(cfg aws.Config) Option {
	return func(opts *checkerOptions) {
		cfgCopy := cfg
		opts.awsCfg = &cfgCopy
	}
}

func WithRoute53API(api route53API) Option {
	return func(opts *checkerOptions) {
		opts.zones = api
	}
}

func WithACMAPI(api acmAPI) Option {
	return func(opts *checkerOptions) {
		opts.certs = api
	}
}

func WithClock(now func() time.Time) Option {
	return func(opts *checkerOptions) {
		opts.now = now
	}
}

func WithExpiryWindow(window time.Duration) Option {
	return func(opts *checkerOptions) {
		opts.window = window
	}
}

func NewChecker(ctx context.Context, options ...Option) (*Checker, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	opts := &checkerOptions{window: DefaultExpiryWindow, now: time.Now}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(opts)
	}

	if opts.zones == nil || opts.certs == nil {
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
		if opts.zones == nil {
			opts.zones = route53.NewFromConfig(cfg)
		}
		if opts.certs == nil {
			opts.certs = acm.NewFromConfig(cfg, func(o *acm.Options) {
				o.Region = naming.CertificateRegion
			})
		}
	}

	return &Checker{zones: opts.zones, certs: opts.certs, now: opts.now, window: opts.window}, nil
}

// Run checks the zone and, for the imported-certificate variant, the certificate.
// The returned error joins every failed check.
func (c *Checker) Run(ctx context.Context, cfg config.Config) (Report, error) {
	if c == nil || c.zones == nil || c.certs == nil {
		return Report{}, errors.New("preflight: checker is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var report Report
	var errs []error
	record := func(name string, err error, detail string) {
		check := Check{Name: name, OK: err == nil, Detail: detail}
		if err != nil {
			check.Detail = err.Error()
			errs = append(errs, err)
		}
		report.Checks = append(report.Checks, check)
	}

	detail, err := c.zone(ctx, cfg)
	record("hosted-zone", err, detail)

	if cfg.Variant == config.VariantImportedCertificate {
		detail, err = c.certificate(ctx, cfg)
		record("certificate", err, detail)
	}
	return report, errors.Join(errs...)
}

func (c *Checker) zone(ctx context.Context, cfg config.Config) (string, error) {
	out, err := c.zones.GetHostedZone(ctx, &route53.GetHostedZoneInput{Id: aws.String(cfg.HostedZoneID)})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrZoneLookupFail, cfg.HostedZoneID, err)
	}
	if out.HostedZone == nil {
		return "", fmt.Errorf("%w: %s: empty response", ErrZoneLookupFail, cfg.HostedZoneID)
	}
	name := aws.ToString(out.HostedZone.Name)
	if !naming.SameZone(name, cfg.HostedZoneName) {
		return "", fmt.Errorf("%w: %s is %q, configured %q", ErrZoneMismatch, cfg.HostedZoneID, name, cfg.HostedZoneName)
	}
	if out.HostedZone.Config != nil && out.HostedZone.Config.PrivateZone {
		return "", fmt.Errorf("%w: %s", ErrZonePrivate, name)
	}
	return fmt.Sprintf("%s is %s", cfg.HostedZoneID, strings.TrimSuffix(name, ".")), nil
}

func (c *Checker) certificate(ctx context.Context, cfg config.Config) (string, error) {
	if region := config.CertificateRegion(cfg.CertificateARN); region != naming.CertificateRegion {
		return "", fmt.Errorf("%w: %q", ErrCertificateRegion, region)
	}
	out, err := c.certs.DescribeCertificate(ctx, &acm.DescribeCertificateInput{
		CertificateArn: aws.String(cfg.CertificateARN),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCertificateLookupFail, err)
	}
	detail := out.Certificate
	if detail == nil {
		return "", fmt.Errorf("%w: empty response", ErrCertificateLookupFail)
	}
	if detail.Status != acmtypes.CertificateStatusIssued {
		return "", fmt.Errorf("%w: status %s", ErrCertificateNotIssued, detail.Status)
	}

	host := naming.SubDomain(cfg.HostedZoneName)
	domains := append([]string{aws.ToString(detail.DomainName)}, detail.SubjectAlternativeNames...)
	covered := false
	for _, d := range domains {
		if naming.Covers(d, host) {
			covered = true
			break
		}
	}
	if !covered {
		return "", fmt.Errorf("%w: %s not in %v", ErrCertificateMismatch, host, domains)
	}
	if detail.NotAfter != nil && detail.NotAfter.Before(c.now().Add(c.window)) {
		return "", fmt.Errorf("%w: not after %s", ErrCertificateExpiring, detail.NotAfter.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s covers %s", aws.ToString(detail.DomainName), host), nil
}
