package taxonomy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk taxonomy configuration
type File struct {
	Version    string         `yaml:"version"`
	Categories []CategoryFile `yaml:"categories"`
}

// CategoryFile is one category entry of a taxonomy file
type CategoryFile struct {
	ID               string          `yaml:"id"`
	Description      string          `yaml:"description"`
	Severity         string          `yaml:"severity"`
	DefaultThreshold float64         `yaml:"default_threshold"`
	Calibration      CalibrationFile `yaml:"calibration"`
}

// CalibrationFile holds optional control points; an empty block means identity
type CalibrationFile struct {
	Method string         `yaml:"method"`
	Points []ControlPoint `yaml:"points"`
}

// LoadFile reads, parses and seals a taxonomy file
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file: %w", err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("taxonomy %s: %w", path, err)
	}
	return reg, nil
}

// Parse builds a sealed registry from YAML. When the file carries no version
// the content hash is used so that every decision can still be traced back to
// the exact taxonomy that produced it.
func Parse(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("taxonomy defines no categories")
	}

	version := f.Version
	if version == "" {
		version = ContentVersion(data)
	}

	reg := NewRegistry(version)
	for i, cf := range f.Categories {
		sev, err := ParseSeverity(cf.Severity)
		if err != nil {
			return nil, fmt.Errorf("category %d (%s): %w", i, cf.ID, err)
		}
		err = reg.Register(Category{
			ID:               cf.ID,
			Description:      cf.Description,
			Severity:         sev,
			DefaultThreshold: cf.DefaultThreshold,
			Calibration: Calibration{
				Method: cf.Calibration.Method,
				Points: cf.Calibration.Points,
			},
		})
		if err != nil {
			return nil, err
		}
	}

	return reg.Seal(), nil
}

// ContentVersion derives a short version stamp from raw configuration bytes
func ContentVersion(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])[:12]
}
