package provisioning

import (
	"crypto/x509"
	"testing"
	"time"
)

func TestTeamID_PrefersTeamIdentifier(t *testing.T) {
	p := &Profile{
		TeamIdentifier:              []string{"ABCD1234"},
		ApplicationIdentifierPrefix: []string{"WXYZ9999"},
	}
	if got := p.TeamID(); got != "ABCD1234" {
		t.Errorf("TeamID() = %q, want ABCD1234", got)
	}
}

func TestTeamID_FallsBackToPrefix(t *testing.T) {
	p := &Profile{ApplicationIdentifierPrefix: []string{"WXYZ9999"}}
	if got := p.TeamID(); got != "WXYZ9999" {
		t.Errorf("TeamID() = %q, want WXYZ9999", got)
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		name     string
		appID    string
		bundleID string
		want     bool
	}{
		{"exact match", "ABCD1234.com.example.app", "com.example.app", true},
		{"exact mismatch", "ABCD1234.com.example.app", "com.example.other", false},
		{"universal wildcard", "ABCD1234.*", "com.example.anything", true},
		{"prefix wildcard match", "ABCD1234.com.example.*", "com.example.sub", true},
		{"prefix wildcard mismatch", "ABCD1234.com.example.*", "com.other.sub", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := &Profile{Entitlements: map[string]interface{}{"application-identifier": c.appID}}
			decision := p.Match(c.bundleID)
			if decision.Matched != c.want {
				t.Errorf("Match(%q) with appID %q = %v, want %v", c.bundleID, c.appID, decision.Matched, c.want)
			}
			if !decision.Matched && decision.Reason == "" {
				t.Error("expected a Reason on a mismatch")
			}
		})
	}
}

func TestMatch_NoApplicationIdentifier(t *testing.T) {
	decision := (&Profile{}).Match("com.example.app")
	if decision.Matched {
		t.Error("expected no match when the profile carries no application-identifier")
	}
	if decision.Reason == "" {
		t.Error("expected a Reason explaining the missing application-identifier")
	}
}

func TestIsExpired(t *testing.T) {
	expired := &Profile{ExpirationDate: time.Now().Add(-24 * time.Hour)}
	if !expired.IsExpired() {
		t.Error("expected profile with past expiration date to report expired")
	}

	valid := &Profile{ExpirationDate: time.Now().Add(24 * time.Hour)}
	if valid.IsExpired() {
		t.Error("expected profile with future expiration date to report not expired")
	}
}

func TestIsDeviceAllowed(t *testing.T) {
	p := &Profile{ProvisionedDevices: []string{"udid-1", "udid-2"}}
	if !p.IsDeviceAllowed("udid-1") {
		t.Error("expected udid-1 to be allowed")
	}
	if p.IsDeviceAllowed("udid-3") {
		t.Error("expected udid-3 to be disallowed")
	}

	distribution := &Profile{ProvisionsAllDevices: true}
	if !distribution.IsDeviceAllowed("any-udid") {
		t.Error("expected ProvisionsAllDevices profile to allow any device")
	}
}

func TestApplicationIdentifier(t *testing.T) {
	p := &Profile{Entitlements: map[string]interface{}{"application-identifier": "ABCD1234.com.example.app"}}
	if got := p.ApplicationIdentifier(); got != "ABCD1234.com.example.app" {
		t.Errorf("ApplicationIdentifier() = %q", got)
	}

	empty := &Profile{}
	if got := empty.ApplicationIdentifier(); got != "" {
		t.Errorf("expected empty string when entitlements are absent, got %q", got)
	}
}

func TestCertificates_EmptyProfile(t *testing.T) {
	p := &Profile{}
	certs, err := p.Certificates()
	if err != nil {
		t.Fatalf("Certificates: %v", err)
	}
	if len(certs) != 0 {
		t.Errorf("Certificates() = %d, want 0", len(certs))
	}
}

func TestCertificates_RejectsMalformedEntry(t *testing.T) {
	p := &Profile{DeveloperCertificates: [][]byte{[]byte("not a certificate")}}
	if _, err := p.Certificates(); err == nil {
		t.Fatal("expected an error for a malformed certificate")
	}
	if _, err := p.Certificates(); err == nil {
		t.Fatal("expected the cached error to persist across repeated calls")
	}
}

func TestMatchesCertificate_NoMatchOnEmptyProfile(t *testing.T) {
	p := &Profile{}
	if p.MatchesCertificate(&x509.Certificate{}) {
		t.Error("expected no match against a profile with no certificates")
	}
}

func TestMatchesCertificate_FalseWhenCertificatesUnparseable(t *testing.T) {
	p := &Profile{DeveloperCertificates: [][]byte{[]byte("garbage")}}
	if p.MatchesCertificate(&x509.Certificate{}) {
		t.Error("expected MatchesCertificate to report false rather than panic on unparseable certificates")
	}
}
