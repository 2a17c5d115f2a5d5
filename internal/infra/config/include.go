package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"agenthub/internal/domain"
)

const maxIncludeDepth = 8

// mergeIncludes overlays every file named in cfg.Include onto cfg, in order.
// Patterns are resolved against dir and may be globs. seen holds absolute
// paths already loaded and rejects cycles.
func mergeIncludes(cfg *Config, dir string, seen map[string]bool, depth int) error {
	if depth >= maxIncludeDepth {
		return fmt.Errorf("%w: include depth exceeds %d", domain.ErrConfiguration, maxIncludeDepth)
	}

	patterns := cfg.Include
	cfg.Include = nil
	for _, pattern := range patterns {
		files, err := expandInclude(pattern, dir)
		if err != nil {
			return err
		}
		for _, f := range files {
			abs, err := filepath.Abs(f)
			if err != nil {
				return fmt.Errorf("include %q: %w", f, err)
			}
			if seen[abs] {
				return fmt.Errorf("%w: include cycle at %s", domain.ErrConfiguration, abs)
			}
			seen[abs] = true
			if err := overlayFile(cfg, abs, seen, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// expandInclude resolves pattern relative to dir. Paths outside dir are
// rejected. A glob matching nothing yields no files; a literal path is
// returned as is so a missing file surfaces as a read error.
func expandInclude(pattern, dir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(dir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(dir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("%w: include %s is outside %s", domain.ErrConfiguration, pattern, dir)
	}

	if !strings.ContainsAny(pattern, "*?[") {
		return []string{pattern}, nil
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: include glob %q: %v", domain.ErrConfiguration, pattern, err)
	}
	return matches, nil
}

func overlayFile(cfg *Config, path string, seen map[string]bool, depth int) error {
	if err := validatePermissions(path); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read include: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse include %s: %w", path, err)
	}
	if len(cfg.Include) > 0 {
		return mergeIncludes(cfg, filepath.Dir(path), seen, depth)
	}
	return nil
}
