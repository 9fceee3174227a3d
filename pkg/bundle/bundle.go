package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ipasign/ipasign/pkg/machoprobe"
	"github.com/ipasign/ipasign/pkg/plist"
)

// Classification labels a discovered Mach-O binary by its role within
// the bundle, as set by Walk.
type Classification int

const (
	Dylib Classification = iota
	MainExecutable
	NestedAppExecutable
	FrameworkBinary
	PlugInBinary
)

// Record is one discovered Mach-O binary and its role.
type Record struct {
	Path string
	Kind Classification
}

// Walk classifies every regular Mach-O file under appDir. It returns
// an error if the app's declared main executable is never found among
// them (mirrors spec's NoBinariesFound condition).
func Walk(appDir string) ([]Record, error) {
	execName, err := ExecutableName(appDir)
	if err != nil {
		return nil, err
	}
	mainExecPath := filepath.Join(appDir, execName)

	var records []Record
	foundMain := false

	err = filepath.Walk(appDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if !machoprobe.IsMachO(path) {
			return nil
		}

		kind := classify(appDir, path, mainExecPath)
		if path == mainExecPath {
			foundMain = true
		}
		records = append(records, Record{Path: path, Kind: kind})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bundle: walk %s: %w", appDir, err)
	}

	if !foundMain {
		return nil, fmt.Errorf("bundle: main executable %q not found among discovered binaries", execName)
	}

	return records, nil
}

func classify(appDir, path, mainExecPath string) Classification {
	if path == mainExecPath {
		return MainExecutable
	}

	rel, err := filepath.Rel(appDir, path)
	if err != nil {
		return Dylib
	}

	switch {
	case strings.Contains(rel, ".app"+string(filepath.Separator)):
		return NestedAppExecutable
	case strings.Contains(rel, ".framework"+string(filepath.Separator)):
		return FrameworkBinary
	case strings.HasPrefix(rel, "PlugIns"+string(filepath.Separator)):
		return PlugInBinary
	default:
		return Dylib
	}
}

// NestedBundlePaths returns bundle-relative paths of every nested
// .framework/.appex/.xctest/.app directory, without recursing into
// them (each is signed as its own unit).
func NestedBundlePaths(appDir string) []string {
	var bundles []string
	_ = filepath.Walk(appDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(appDir, path)
		if err != nil || rel == "." {
			return nil
		}
		if isNestedBundle(rel) {
			bundles = append(bundles, rel)
			return filepath.SkipDir
		}
		return nil
	})
	return bundles
}

func isNestedBundle(relPath string) bool {
	switch filepath.Ext(relPath) {
	case ".framework", ".xctest", ".appex", ".app":
		return true
	}
	return false
}

// BundleID reads CFBundleIdentifier from appDir/Info.plist.
func BundleID(appDir string) (string, error) {
	info, err := readInfoPlist(appDir)
	if err != nil {
		return "", err
	}
	id, ok := info["CFBundleIdentifier"].(string)
	if !ok {
		return "", fmt.Errorf("bundle: CFBundleIdentifier missing from %s/Info.plist", appDir)
	}
	return id, nil
}

// ExecutableName reads CFBundleExecutable from appDir/Info.plist.
func ExecutableName(appDir string) (string, error) {
	info, err := readInfoPlist(appDir)
	if err != nil {
		return "", err
	}
	name, ok := info["CFBundleExecutable"].(string)
	if !ok {
		return "", fmt.Errorf("bundle: CFBundleExecutable missing from %s/Info.plist", appDir)
	}
	return name, nil
}

func readInfoPlist(appDir string) (plist.Tree, error) {
	path := filepath.Join(appDir, "Info.plist")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: read %s: %w", path, err)
	}
	tree, err := plist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("bundle: parse %s: %w", path, err)
	}
	return tree, nil
}
