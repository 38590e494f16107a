// Package appinfo exposes build identity read from the talkback.yaml
// manifest shipped next to the binary.
package appinfo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ManifestName is the manifest file looked up at startup.
const ManifestName = "talkback.yaml"

// Metadata captures static identifiers for the application.
type Metadata struct {
	Name        string
	BinaryName  string
	Slug        string
	Description string
	Version     string
}

var fallback = Metadata{
	Name:        "talkback",
	BinaryName:  "talkback",
	Slug:        "talkback",
	Description: "talkback",
	Version:     "dev",
}

var (
	once    sync.Once
	current Metadata
	loadErr error
)

// Load reads the manifest once and returns its metadata.
func Load() (Metadata, error) {
	once.Do(func() {
		data, err := findManifest()
		if err != nil {
			loadErr = err
			return
		}
		current, loadErr = Parse(data)
	})
	return current, loadErr
}

// Info returns the loaded metadata, or development defaults when no valid
// manifest was found.
func Info() Metadata {
	meta, err := Load()
	if err != nil {
		return fallback
	}
	return meta
}

// Version returns the application version.
func Version() string {
	return Info().Version
}

// RequestMetadata identifies talkback on outbound synthesis requests. The
// map is freshly allocated and may be extended by the caller.
func RequestMetadata() map[string]string {
	info := Info()
	return map[string]string{
		"client":         info.Slug,
		"client_version": info.Version,
	}
}

// SynthesisMetadata is attached to audio chunks served by talkback.
func SynthesisMetadata(voiceID string) map[string]string {
	info := Info()
	return map[string]string{
		"generator": info.Slug,
		"version":   info.Version,
		"voice_id":  voiceID,
	}
}

func findManifest() ([]byte, error) {
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Dir(exe))
	}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, wd)
	}
	if _, file, _, ok := runtime.Caller(0); ok {
		candidates = append(candidates, filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..")))
	}

	seen := make(map[string]struct{})
	for _, base := range candidates {
		base = filepath.Clean(base)
		if _, ok := seen[base]; ok {
			continue
		}
		seen[base] = struct{}{}

		if data, err := os.ReadFile(filepath.Join(base, ManifestName)); err == nil {
			return data, nil
		}
	}
	return nil, errors.New("appinfo: " + ManifestName + " not found next to binary or source tree")
}

type manifest struct {
	Metadata struct {
		Name        string `yaml:"name"`
		Slug        string `yaml:"slug"`
		Description string `yaml:"description"`
		Version     string `yaml:"version"`
	} `yaml:"metadata"`
	Spec struct {
		Entrypoint struct {
			Command string `yaml:"command"`
		} `yaml:"entrypoint"`
	} `yaml:"spec"`
}

// Parse decodes a manifest document.
func Parse(data []byte) (Metadata, error) {
	var doc manifest
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Metadata{}, fmt.Errorf("appinfo: decode manifest: %w", err)
	}

	meta := Metadata{
		Name:        strings.TrimSpace(doc.Metadata.Name),
		Slug:        strings.TrimSpace(doc.Metadata.Slug),
		Description: strings.TrimSpace(doc.Metadata.Description),
		Version:     strings.TrimSpace(doc.Metadata.Version),
		BinaryName:  strings.TrimPrefix(strings.TrimSpace(doc.Spec.Entrypoint.Command), "./"),
	}
	if meta.Version == "" {
		return Metadata{}, errors.New("appinfo: metadata.version missing in manifest")
	}
	if meta.Slug == "" {
		return Metadata{}, errors.New("appinfo: metadata.slug missing in manifest")
	}
	if meta.Name == "" {
		meta.Name = meta.Slug
	}
	if meta.Description == "" {
		meta.Description = meta.Name
	}
	if meta.BinaryName == "" {
		meta.BinaryName = meta.Slug
	}
	return meta, nil
}
