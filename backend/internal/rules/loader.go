package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// File is the on-disk form of one organization's rule set
type File struct {
	Organization string `yaml:"organization"`
	Version      string `yaml:"version"`
	Rules        []Spec `yaml:"rules"`
}

// ParseFile decodes and compiles a rule-set document. The organization
// defaults to fallbackOrg when the document does not name one.
func ParseFile(data []byte, fallbackOrg string, opts CompileOptions) (*RuleSet, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if f.Organization == "" {
		f.Organization = fallbackOrg
	}
	return Compile(f.Organization, f.Version, f.Rules, opts)
}

// LoadFile reads one rule-set file; the file name is the default organization
func LoadFile(path string, opts CompileOptions) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	org := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	set, err := ParseFile(data, org, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// LoadDir compiles every *.yaml / *.yml file in dir into store.
// Unlike the taxonomy watcher, a bad rule file is fatal: nothing is installed
// unless every file compiles. A missing directory leaves the store untouched.
func LoadDir(dir string, store *Store, opts CompileOptions, logger *logrus.Logger) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if logger != nil {
			logger.WithField("directory", dir).Info("Rule directory does not exist, no organization rules loaded")
		}
		return nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("failed to list rule files: %w", err)
	}
	ymlFiles, err := filepath.Glob(filepath.Join(dir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to list rule files: %w", err)
	}
	files = append(files, ymlFiles...)
	sort.Strings(files)

	sets := make([]*RuleSet, 0, len(files))
	seen := make(map[string]string, len(files))
	for _, file := range files {
		set, err := LoadFile(file, opts)
		if err != nil {
			return err
		}
		if other, dup := seen[set.Organization]; dup {
			return fmt.Errorf("organization %q defined in both %s and %s", set.Organization, other, file)
		}
		seen[set.Organization] = file
		sets = append(sets, set)
	}

	for _, set := range sets {
		if _, err := store.Replace(set); err != nil {
			return err
		}
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"organization": set.Organization,
				"version":      set.Version,
				"rules":        set.Len(),
			}).Info("Loaded rule set")
		}
	}
	return nil
}
