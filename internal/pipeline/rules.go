package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RuleProvider contributes global rules (style guides, constraints) that
// every stage of a run sees under global_rules.
type RuleProvider interface {
	Rules(ctx context.Context, workspace string) ([]string, error)
}

// FolderRules reads *.md and *.txt files from a folder. A relative Dir is
// resolved against the workspace; an empty Dir means "rules".
type FolderRules struct {
	Dir string
}

func (f FolderRules) Rules(_ context.Context, workspace string) ([]string, error) {
	dir := f.Dir
	if dir == "" {
		dir = "rules"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(workspace, dir)
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".md" || ext == ".txt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var rules []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read rule %s: %w", name, err)
		}
		if content := strings.TrimSpace(string(data)); content != "" {
			rules = append(rules, fmt.Sprintf("Rule from %s:\n%s", name, content))
		}
	}
	return rules, nil
}

// StaticRules is a fixed rule list, typically from configuration.
type StaticRules []string

func (s StaticRules) Rules(context.Context, string) ([]string, error) {
	return append([]string(nil), s...), nil
}

// CollectRules aggregates every provider in order.
func CollectRules(ctx context.Context, workspace string, providers []RuleProvider) ([]string, error) {
	var all []string
	for _, p := range providers {
		rules, err := p.Rules(ctx, workspace)
		if err != nil {
			return nil, err
		}
		all = append(all, rules...)
	}
	return all, nil
}
