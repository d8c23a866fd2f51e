// Package config resolves the limits payload named by --config into a
// resource limit profile.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-sandbox/pkg/errors"
	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
)

// MaxSeconds is the largest second count that still fits a time.Duration.
const MaxSeconds = int64(math.MaxInt64 / int64(time.Second))

// LimitsPayload is the flat limit-name to positive-integer mapping. A nil
// field is a missing key and takes the built-in default.
type LimitsPayload struct {
	MemoryBytes             *int64 `yaml:"memoryBytes" json:"memoryBytes"`
	CPUTimeSeconds          *int64 `yaml:"cpuTimeSeconds" json:"cpuTimeSeconds"`
	FileSizeBytes           *int64 `yaml:"fileSizeBytes" json:"fileSizeBytes"`
	ProcessLimit            *int64 `yaml:"processLimit" json:"processLimit"`
	MaxExecutionTimeSeconds *int64 `yaml:"maxExecutionTimeSeconds" json:"maxExecutionTimeSeconds"`
}

// Validate requires every present value to be a positive integer.
func (p *LimitsPayload) Validate() error {
	fields := []struct {
		name  string
		value *int64
	}{
		{"memoryBytes", p.MemoryBytes},
		{"cpuTimeSeconds", p.CPUTimeSeconds},
		{"fileSizeBytes", p.FileSizeBytes},
		{"processLimit", p.ProcessLimit},
		{"maxExecutionTimeSeconds", p.MaxExecutionTimeSeconds},
	}

	var problems []string
	for _, field := range fields {
		if field.value != nil && *field.value <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be a positive integer, got %d", field.name, *field.value))
		}
	}
	for _, field := range []struct {
		name  string
		value *int64
	}{
		{"cpuTimeSeconds", p.CPUTimeSeconds},
		{"maxExecutionTimeSeconds", p.MaxExecutionTimeSeconds},
	} {
		if field.value != nil && *field.value > MaxSeconds {
			problems = append(problems, fmt.Sprintf("%s must not exceed %d, got %d", field.name, MaxSeconds, *field.value))
		}
	}
	if len(problems) > 0 {
		return errors.NewValidationError(strings.Join(problems, "; "), nil)
	}
	return nil
}

// Profile merges the payload over the built-in defaults.
func (p *LimitsPayload) Profile() resourcelimits.Profile {
	profile := resourcelimits.DefaultProfile()
	if p.MemoryBytes != nil {
		profile.MemoryBytes = uint64(*p.MemoryBytes)
	}
	if p.CPUTimeSeconds != nil {
		profile.CPUSeconds = resourcelimits.CPUSeconds(uint64(*p.CPUTimeSeconds))
	}
	if p.FileSizeBytes != nil {
		profile.FileSizeBytes = uint64(*p.FileSizeBytes)
	}
	if p.ProcessLimit != nil {
		profile.MaxProcesses = uint64(*p.ProcessLimit)
	}
	if p.MaxExecutionTimeSeconds != nil {
		profile.WallClock = time.Duration(*p.MaxExecutionTimeSeconds) * time.Second
	}
	return profile
}

// Resolver fetches the limits payload a path names.
type Resolver interface {
	Resolve(path string) (*LimitsPayload, error)
}

// FileResolver reads payloads from disk: .json and .jsonc files as JSON
// with comments, everything else as YAML. Unknown keys are rejected.
type FileResolver struct{}

func NewFileResolver() *FileResolver {
	return &FileResolver{}
}

func (r *FileResolver) Resolve(path string) (*LimitsPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return parseJSON(data, path)
	default:
		return parseYAML(data, path)
	}
}

func parseJSON(data []byte, path string) (*LimitsPayload, error) {
	var payload LimitsPayload
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil && err != io.EOF {
		return nil, errors.NewValidationError("failed to parse JSON configuration", err).WithContext("filename", path)
	}
	return &payload, nil
}

func parseYAML(data []byte, path string) (*LimitsPayload, error) {
	var payload LimitsPayload
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&payload); err != nil && err != io.EOF {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", path)
	}
	if err := requireIntegers(data); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", path)
	}
	return &payload, nil
}

// requireIntegers rejects values yaml.v3 would otherwise coerce into the
// integer fields, such as 1.5 or 1e8.
func requireIntegers(data []byte) error {
	var document yaml.Node
	if err := yaml.Unmarshal(data, &document); err != nil {
		return err
	}
	if len(document.Content) == 0 || document.Content[0].Kind != yaml.MappingNode {
		return nil
	}
	mapping := document.Content[0]
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, value := mapping.Content[i], mapping.Content[i+1]
		if value.Kind == yaml.ScalarNode && (value.ShortTag() == "!!int" || value.ShortTag() == "!!null") {
			continue
		}
		return fmt.Errorf("%s must be a positive integer, got %q (line %d)", key.Value, value.Value, value.Line)
	}
	return nil
}
