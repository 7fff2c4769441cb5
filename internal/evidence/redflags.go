package evidence

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one risk pattern the red-flag scanner looks for.
type Rule struct {
	// ID identifies which rule matched.
	ID string `yaml:"id"`

	// Description explains what the pattern indicates.
	Description string `yaml:"description"`

	// Pattern is the regular expression applied per line.
	Pattern string `yaml:"pattern"`
}

// Finding is one red-flag hit.
type Finding struct {
	// File is the path relative to the scanned root.
	File string `json:"file"`

	// Line is the line number (1-indexed).
	Line int `json:"line"`

	// RuleID identifies which rule matched.
	RuleID string `json:"rule_id"`

	// Match is the matched fragment.
	Match string `json:"match"`
}

// DefaultRules returns the stock catalogue: markers that claimed
// infrastructure-backed work may actually rest on in-memory substitutes,
// mocks, ephemeral storage, or disabled tests.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "in-memory-store",
			Description: "In-memory substitute for a persistent store",
			Pattern:     `(?i)\b(in[_-]?memory|inmem)\b`,
		},
		{
			ID:          "mock-marker",
			Description: "Mock, fake, or stub implementation marker",
			Pattern:     `(?i)\b(mock|fake|stub)[A-Za-z0-9_]*\b`,
		},
		{
			ID:          "ephemeral-storage",
			Description: "Ephemeral storage path or temp-dir persistence",
			Pattern:     `(?i)(/tmp/|os\.TempDir|tempfile\.|mkdtemp|tmpfs)`,
		},
		{
			ID:          "skipped-test",
			Description: "Disabled or skipped test",
			Pattern:     `(?i)(t\.Skip|@unittest\.skip|pytest\.mark\.skip|it\.skip|xit\(|describe\.skip)`,
		},
		{
			ID:          "sqlite-memory",
			Description: "SQLite in-memory database",
			Pattern:     `(?i):memory:`,
		},
		{
			ID:          "hardcoded-localhost",
			Description: "Hardcoded localhost endpoint posing as real infrastructure",
			Pattern:     `(?i)(localhost|127\.0\.0\.1):[0-9]{2,5}`,
		},
		{
			ID:          "todo-placeholder",
			Description: "Placeholder left where an implementation is claimed",
			Pattern:     `(?i)\b(not[ _]implemented|NotImplementedError|unimplemented!)\b`,
		},
	}
}

// DefaultExtensions is the stock set of source extensions scanned.
func DefaultExtensions() []string {
	return []string{".go", ".py", ".js", ".ts", ".rb", ".rs", ".java"}
}

// LoadRulesFile reads a YAML rule catalogue, replacing the defaults.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", path)
	}
	return doc.Rules, nil
}

type compiledRule struct {
	id string
	re *regexp.Regexp
}

// Scanner statically scans workspace sources for red-flag patterns.
type Scanner struct {
	rules []compiledRule
	exts  map[string]bool
}

// NewScanner compiles the rule catalogue. Nil rules or extensions select the
// defaults.
func NewScanner(rules []Rule, extensions []string) (*Scanner, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	if extensions == nil {
		extensions = DefaultExtensions()
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern for rule %s: %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{id: r.ID, re: re})
	}

	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Scanner{rules: compiled, exts: exts}, nil
}

// Scan walks root and applies every rule to every line of every matching
// source file. Findings are ordered by file path, then line.
func (s *Scanner) Scan(root string) ([]Finding, error) {
	var findings []Finding

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		fileFindings, err := s.scanFile(path, filepath.ToSlash(rel))
		if err != nil {
			// Unreadable files are skipped, not fatal: the scan is advisory.
			return nil
		}
		findings = append(findings, fileFindings...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("red-flag scan failed: %w", err)
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].File != findings[j].File {
			return findings[i].File < findings[j].File
		}
		return findings[i].Line < findings[j].Line
	})
	return findings, nil
}

func (s *Scanner) scanFile(path, rel string) ([]Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var findings []Finding
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		for _, rule := range s.rules {
			if match := rule.re.FindString(text); match != "" {
				findings = append(findings, Finding{
					File:   rel,
					Line:   line,
					RuleID: rule.id,
					Match:  match,
				})
			}
		}
	}
	return findings, scanner.Err()
}

// Render formats findings as the RED_FLAGS prompt block, one line per hit.
func Render(findings []Finding) string {
	if len(findings) == 0 {
		return NoneMarker
	}
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "- %s:%d [%s] %s\n", f.File, f.Line, f.RuleID, f.Match)
	}
	return strings.TrimRight(b.String(), "\n")
}
