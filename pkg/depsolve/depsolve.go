package depsolve

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/ipasign/ipasign/pkg/machoprobe"
)

// Plan is a signing order: Layers[0] must be signed before Layers[1],
// and so on. A flat plan has exactly one binary per layer.
type Plan struct {
	Layers [][]string
}

// Flatten returns the plan as a single ordered slice.
func (p *Plan) Flatten() []string {
	var out []string
	for _, layer := range p.Layers {
		out = append(out, layer...)
	}
	return out
}

// Solve orders candidates (absolute paths, bundle-relative) for
// signing so that every binary is signed after everything it depends
// on. mainExec follows everything it links against, directly or
// indirectly; it is not otherwise moved to the end, so a candidate it
// does not link can share its layer or be ordered after it. Only the
// cycle fallback below always puts mainExec last. When parallel is true, independent
// binaries within a layer may be signed concurrently; otherwise each
// layer holds exactly one binary, in the same topological order.
//
// If the dependency graph contains a cycle (possible via
// LC_LOAD_UPWARD_DYLIB), Solve falls back to the teacher's original
// path-depth heuristic: deepest paths first, mainExec last.
func Solve(bundleRoot, mainExec string, candidates []string, parallel bool) (*Plan, error) {
	edges := make(map[string][]string, len(candidates))
	for _, c := range candidates {
		edges[c] = nil
	}

	for _, c := range candidates {
		imports, err := machoprobe.ImportedLibraries(c)
		if err != nil {
			continue // unreadable dependency info; treat as leaf
		}
		for _, imp := range imports {
			resolved := resolveImportPath(bundleRoot, filepath.Dir(c), imp)
			if _, ok := edges[resolved]; ok && resolved != c {
				edges[c] = append(edges[c], resolved)
			}
		}
	}

	order, ok := topoSort(candidates, edges)
	if !ok {
		return depthFallback(candidates, mainExec), nil
	}

	if !parallel {
		layers := make([][]string, len(order))
		for i, b := range order {
			layers[i] = []string{b}
		}
		return &Plan{Layers: layers}, nil
	}

	return &Plan{Layers: layerize(candidates, edges, order)}, nil
}

// resolveImportPath maps a dylib load-command path to a bundle-local
// file path: @rpath/ and @loader_path/ are replaced by the binary's own
// containing directory, @executable_path/ by bundleRoot, and any other
// path is returned unchanged.
func resolveImportPath(bundleRoot, binaryDir, imp string) string {
	switch {
	case strings.HasPrefix(imp, "@rpath/"):
		return filepath.Join(binaryDir, strings.TrimPrefix(imp, "@rpath/"))
	case strings.HasPrefix(imp, "@executable_path/"):
		return filepath.Join(bundleRoot, strings.TrimPrefix(imp, "@executable_path/"))
	case strings.HasPrefix(imp, "@loader_path/"):
		return filepath.Join(binaryDir, strings.TrimPrefix(imp, "@loader_path/"))
	default:
		return imp
	}
}

// topoSort returns candidates ordered so dependencies precede
// dependents. ok is false if edges contains a cycle.
func topoSort(candidates []string, edges map[string][]string) (order []string, ok bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(candidates))
	var visit func(string) bool
	visit = func(n string) bool {
		switch color[n] {
		case black:
			return true
		case gray:
			return false // cycle
		}
		color[n] = gray
		for _, dep := range edges[n] {
			if !visit(dep) {
				return false
			}
		}
		color[n] = black
		order = append(order, n)
		return true
	}

	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	for _, c := range sorted {
		if !visit(c) {
			return nil, false
		}
	}
	return order, true
}

// layerize groups a valid topological order into layers of mutually
// independent binaries via repeated sink removal.
func layerize(candidates []string, edges map[string][]string, order []string) [][]string {
	remaining := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		remaining[c] = true
	}

	dependents := make(map[string][]string)
	for n, deps := range edges {
		for _, d := range deps {
			dependents[d] = append(dependents[d], n)
		}
	}

	var layers [][]string
	for len(remaining) > 0 {
		var layer []string
		for _, n := range order {
			if !remaining[n] {
				continue
			}
			ready := true
			for _, dep := range edges[n] {
				if remaining[dep] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, n)
			}
		}
		if len(layer) == 0 {
			// shouldn't happen for an acyclic graph; bail to avoid infinite loop
			for n := range remaining {
				layer = append(layer, n)
			}
		}
		sort.Strings(layer)
		layers = append(layers, layer)
		for _, n := range layer {
			delete(remaining, n)
		}
	}
	return layers
}

func depthFallback(candidates []string, mainExec string) *Plan {
	sorted := append([]string(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		di := strings.Count(sorted[i], string(filepath.Separator))
		dj := strings.Count(sorted[j], string(filepath.Separator))
		if di != dj {
			return di > dj
		}
		return sorted[i] < sorted[j]
	})

	// mainExec must come last regardless of depth.
	var rest []string
	for _, c := range sorted {
		if c != mainExec {
			rest = append(rest, c)
		}
	}
	rest = append(rest, mainExec)

	layers := make([][]string, len(rest))
	for i, b := range rest {
		layers[i] = []string{b}
	}
	return &Plan{Layers: layers}
}
