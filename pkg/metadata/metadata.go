package metadata

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ipasign/ipasign/pkg/plist"
)

// RewriteInfoPlist applies the mutations of spec §4.8 in a single pass
// and rewrites the file only if at least one mutation actually
// changed something. Non-existent optional keys are never created.
func RewriteInfoPlist(appDir, newBundleID string, forceFamily bool) (bool, error) {
	path := filepath.Join(appDir, "Info.plist")

	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("metadata: read %s: %w", path, err)
	}

	info, err := plist.Unmarshal(data)
	if err != nil {
		return false, fmt.Errorf("metadata: parse %s: %w", path, err)
	}

	changed := false

	if newBundleID != "" {
		info["CFBundleIdentifier"] = newBundleID
		changed = true

		if _, ok := info["basebundleidentifier"]; ok {
			info["basebundleidentifier"] = newBundleID
		}

		if urlTypes, ok := info["CFBundleURLTypes"].([]any); ok && len(urlTypes) > 0 {
			if first, ok := urlTypes[0].(map[string]any); ok {
				if _, has := first["CFBundleURLName"]; has {
					first["CFBundleURLName"] = newBundleID
				}
			}
		}
	}

	if forceFamily {
		if _, ok := info["UISupportedDevices"]; ok {
			delete(info, "UISupportedDevices")
			changed = true
		}
		if family, ok := info["UIDeviceFamily"].([]any); ok && len(family) == 1 {
			if n, ok := asInt(family[0]); ok && n == 2 {
				info["UIDeviceFamily"] = []any{int64(1)}
				changed = true
			}
		}
	}

	if !changed {
		return false, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return false, fmt.Errorf("metadata: create %s: %w", path, err)
	}
	defer f.Close()

	if err := plist.Write(f, info, plist.XMLFormat); err != nil {
		return false, fmt.Errorf("metadata: write %s: %w", path, err)
	}

	return true, nil
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}
