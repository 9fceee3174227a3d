// Package identity resolves a human-readable code signing identity
// string (a certificate common name) from a PKCS#12 file, for CLI
// convenience. It never touches private key material for signing —
// that is the external signer's job (see pkg/signer).
package identity

import (
	"crypto/x509"
	"fmt"

	gop12 "software.sslmate.com/src/go-pkcs12"
)

// Info is the subset of a signing certificate relevant to picking a
// `codesign --sign <identity>` argument.
type Info struct {
	CommonName string
	TeamID     string
}

// Resolve decodes a PKCS#12 file and extracts the certificate's common
// name and Apple Team ID (the 10-character Organizational Unit).
func Resolve(p12Data []byte, password string) (*Info, error) {
	_, cert, _, err := gop12.DecodeChain(p12Data, password)
	if err != nil {
		return nil, fmt.Errorf("identity: decode p12: %w", err)
	}

	return &Info{
		CommonName: cert.Subject.CommonName,
		TeamID:     teamID(cert),
	}, nil
}

func teamID(cert *x509.Certificate) string {
	for _, ou := range cert.Subject.OrganizationalUnit {
		if len(ou) == 10 {
			return ou
		}
	}
	return ""
}
