package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IsPresentation reports whether name is a presentation worth converting.
// Office lock files (~$deck.pptx) are ignored.
func IsPresentation(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, "~$") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".ppt", ".pptx":
		return true
	}
	return false
}

// DiscoverRoots expands paths into root document locators. Directories
// contribute their presentations (not recursively) in name order; files are
// taken as given.
func DiscoverRoots(paths []string) ([]string, error) {
	var roots []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat input %s: %w", p, err)
		}
		if !info.IsDir() {
			roots = append(roots, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("failed to list input dir %s: %w", p, err)
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && IsPresentation(e.Name()) {
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(found)
		roots = append(roots, found...)
	}
	return roots, nil
}
