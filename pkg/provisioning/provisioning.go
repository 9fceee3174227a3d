package provisioning

import (
	"crypto/x509"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mozilla.org/pkcs7"

	"github.com/ipasign/ipasign/pkg/plist"
)

// Profile is a parsed .mobileprovision file: a CMS/PKCS#7 signed
// container wrapping an XML plist payload.
type Profile struct {
	Name                        string     `plist:"Name"`
	TeamName                    string     `plist:"TeamName"`
	TeamIdentifier              []string   `plist:"TeamIdentifier"`
	AppIDName                   string     `plist:"AppIDName"`
	ApplicationIdentifierPrefix []string   `plist:"ApplicationIdentifierPrefix"`
	Entitlements                plist.Tree `plist:"Entitlements"`
	DeveloperCertificates       [][]byte   `plist:"DeveloperCertificates"`
	ProvisionedDevices          []string   `plist:"ProvisionedDevices"`
	ProvisionsAllDevices        bool       `plist:"ProvisionsAllDevices"`
	CreationDate                time.Time  `plist:"CreationDate"`
	ExpirationDate              time.Time  `plist:"ExpirationDate"`
	UUID                        string     `plist:"UUID"`
	Platform                    []string   `plist:"Platform"`

	certOnce sync.Once
	certs    []*x509.Certificate
	certErr  error
}

// Parse unwraps the CMS envelope and decodes the inner plist. It does
// not eagerly parse DeveloperCertificates: resign's pipeline only ever
// needs TeamID/ApplicationIdentifier/Match for a routine resign, so
// certificate DER decoding is deferred to the first call that actually
// asks for it (Certificates or MatchesCertificate), via resolveCerts.
func Parse(data []byte) (*Profile, error) {
	p7, err := pkcs7.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("provisioning: parse CMS container: %w", err)
	}

	var profile Profile
	if err := plist.UnmarshalInto(p7.Content, &profile); err != nil {
		return nil, fmt.Errorf("provisioning: parse profile plist: %w", err)
	}
	return &profile, nil
}

// TeamID returns the team identifier, falling back to the application
// identifier prefix on older profiles that omit TeamIdentifier.
func (p *Profile) TeamID() string {
	if len(p.TeamIdentifier) > 0 {
		return p.TeamIdentifier[0]
	}
	if len(p.ApplicationIdentifierPrefix) > 0 {
		return p.ApplicationIdentifierPrefix[0]
	}
	return ""
}

// ApplicationIdentifier returns the application-identifier entitlement
// embedded in the profile, e.g. "ABCD1234.com.example.app" or a wildcard
// such as "ABCD1234.*".
func (p *Profile) ApplicationIdentifier() string {
	appID, _ := p.Entitlements["application-identifier"].(string)
	return appID
}

// MatchDecision is the outcome of comparing a profile's application
// identifier pattern against a target bundle ID. Reason is populated
// only when Matched is false, so a caller can surface it directly as a
// warning instead of independently re-deriving the pattern and
// formatting its own message from ApplicationIdentifier().
type MatchDecision struct {
	Matched bool
	Reason  string
}

// Match reports whether the profile's application-identifier pattern
// covers bundleID, honoring a trailing "*" wildcard, and explains a
// mismatch when it doesn't.
func (p *Profile) Match(bundleID string) MatchDecision {
	appID := p.ApplicationIdentifier()
	idx := strings.IndexByte(appID, '.')
	if idx < 0 {
		return MatchDecision{Reason: fmt.Sprintf("profile %q has no application-identifier entitlement", p.Name)}
	}

	pattern := appID[idx+1:]
	switch {
	case pattern == "*":
		return MatchDecision{Matched: true}
	case strings.HasSuffix(pattern, "*"):
		if strings.HasPrefix(bundleID, strings.TrimSuffix(pattern, "*")) {
			return MatchDecision{Matched: true}
		}
	case pattern == bundleID:
		return MatchDecision{Matched: true}
	}

	return MatchDecision{Reason: fmt.Sprintf(
		"target bundle id %q does not match provisioning profile's application identifier pattern %q",
		bundleID, appID)}
}

// IsExpired reports whether the profile's expiration date has passed.
func (p *Profile) IsExpired() bool {
	return time.Now().After(p.ExpirationDate)
}

// IsDeviceAllowed reports whether the given device UDID is provisioned,
// always true for enterprise/distribution profiles.
func (p *Profile) IsDeviceAllowed(udid string) bool {
	if p.ProvisionsAllDevices {
		return true
	}
	for _, device := range p.ProvisionedDevices {
		if device == udid {
			return true
		}
	}
	return false
}

// resolveCerts parses DeveloperCertificates at most once per profile.
// It is concurrency-safe, so Certificates and MatchesCertificate can be
// called from multiple goroutines against the same profile without
// racing or redundantly re-parsing DER on every check.
func (p *Profile) resolveCerts() ([]*x509.Certificate, error) {
	p.certOnce.Do(func() {
		certs := make([]*x509.Certificate, len(p.DeveloperCertificates))
		for i, certData := range p.DeveloperCertificates {
			cert, err := x509.ParseCertificate(certData)
			if err != nil {
				p.certErr = fmt.Errorf("provisioning: certificate %d: %w", i, err)
				return
			}
			certs[i] = cert
		}
		p.certs = certs
	})
	return p.certs, p.certErr
}

// Certificates parses and returns the profile's embedded developer
// certificates.
func (p *Profile) Certificates() ([]*x509.Certificate, error) {
	return p.resolveCerts()
}

// MatchesCertificate reports whether cert appears among the profile's
// developer certificates. A profile whose certificates fail to parse
// never matches, rather than silently skipping the bad entry as the
// original per-call parse did.
func (p *Profile) MatchesCertificate(cert *x509.Certificate) bool {
	certs, err := p.resolveCerts()
	if err != nil {
		return false
	}
	for _, profileCert := range certs {
		if cert.Equal(profileCert) {
			return true
		}
	}
	return false
}
