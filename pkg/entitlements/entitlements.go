package entitlements

import (
	"fmt"
	"os"

	"github.com/ipasign/ipasign/pkg/plist"
	"github.com/ipasign/ipasign/pkg/provisioning"
)

// Document is a reconciled entitlement tree. At minimum it carries
// application-identifier, com.apple.developer.team-identifier,
// keychain-access-groups, and get-task-allow.
type Document = plist.Tree

// Inputs bundles the reconciliation decision table's inputs for one
// binary (spec §4.7).
type Inputs struct {
	MachO                  Document // entitlements already embedded in the binary, may be nil
	Profile                *provisioning.Profile
	UserOverridePath       string // non-empty if the user supplied a literal entitlements file
	UseDefaultEntitlements bool
}

// Reconcile applies the three-way precedence table and returns the
// resulting document plus an optional non-fatal warning (e.g. a
// bundle-ID / profile mismatch).
func Reconcile(in Inputs, targetBundleID string) (Document, string, error) {
	profileEnts := Document(in.Profile.Entitlements)
	appID, _ := profileEnts["application-identifier"].(string)
	teamID, _ := profileEnts["com.apple.developer.team-identifier"].(string)

	var doc Document
	switch {
	case in.UseDefaultEntitlements && appID != "" && teamID != "":
		doc = Document{
			"application-identifier":              appID,
			"com.apple.developer.team-identifier": teamID,
			"get-task-allow":                       true,
			"keychain-access-groups":               []any{appID},
		}

	case in.UserOverridePath != "":
		data, err := os.ReadFile(in.UserOverridePath)
		if err != nil {
			return nil, "", fmt.Errorf("entitlements: read override %s: %w", in.UserOverridePath, err)
		}
		doc, err = plist.Unmarshal(data)
		if err != nil {
			return nil, "", fmt.Errorf("entitlements: parse override %s: %w", in.UserOverridePath, err)
		}

	default:
		if in.MachO == nil {
			return nil, "", nil
		}
		doc = merge(in.MachO, appID, teamID)
	}

	warning := ""
	if targetBundleID != "" {
		if decision := in.Profile.Match(targetBundleID); !decision.Matched {
			warning = "entitlements: " + decision.Reason
		}
	}

	return doc, warning, nil
}

func merge(base Document, appID, teamID string) Document {
	merged := make(Document, len(base))
	for k, v := range base {
		merged[k] = v
	}

	if appID != "" {
		merged["application-identifier"] = appID
	}
	if teamID != "" {
		merged["com.apple.developer.team-identifier"] = teamID
	}

	if appID != "" {
		if groups, ok := merged["keychain-access-groups"].([]any); ok && len(groups) > 0 {
			groups[0] = appID
			merged["keychain-access-groups"] = groups
		} else {
			merged["keychain-access-groups"] = []any{appID}
		}
	}

	return merged
}

// WriteXML writes doc as an XML plist to path (typically
// "<binary>.entitlements").
func WriteXML(doc Document, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("entitlements: create %s: %w", path, err)
	}
	defer f.Close()
	return plist.Write(f, doc, plist.XMLFormat)
}
