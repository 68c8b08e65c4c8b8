package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pders01/feedsync/internal/debuglog"
	"github.com/pders01/feedsync/internal/validation"
)

const sourcesFile = "feeds.yaml"

// Source is one configured feed. The URL is its identity.
type Source struct {
	URL      string
	Category string
	// LoadLink asks readers to open the entry link instead of rendering the content.
	LoadLink bool
}

type sourceProps struct {
	Category string `yaml:"category"`
	LoadLink bool   `yaml:"loadlink"`
}

// SourcePaths lists the locations searched for feeds.yaml, in order.
func SourcePaths() []string {
	return []string{
		sourcesFile,
		filepath.Join(configDir(), sourcesFile),
	}
}

// FindSources returns explicit if set, else the first existing default location.
func FindSources(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, p := range SourcePaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("cannot find %s in any of %v", sourcesFile, SourcePaths())
}

// LoadSources reads the feed list of cfg.
func LoadSources(cfg *Config) ([]Source, error) {
	path, err := FindSources(cfg.Feed.Sources)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sources: %w", err)
	}
	return ParseSources(data, cfg.Feed.AllowLocal)
}

// ParseSources decodes a feeds.yaml document: a mapping from feed URL to its
// properties, kept in document order. Invalid URLs are skipped with a
// warning and a repeated URL keeps its first occurrence.
func ParseSources(data []byte, allowLocal bool) ([]Source, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing sources: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("parsing sources: top level must be a mapping of feed URLs")
	}

	validator := validation.NewURLValidator()
	if allowLocal {
		validator = validation.NewPermissiveURLValidator()
	}

	seen := make(map[string]struct{})
	var sources []Source
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]

		feedURL, err := validator.ValidateAndNormalize(key.Value)
		if err != nil {
			debuglog.Warnf("skipping source %q (line %d): %v", key.Value, key.Line, err)
			continue
		}
		if _, dup := seen[feedURL]; dup {
			debuglog.Warnf("skipping duplicate source %s (line %d)", feedURL, key.Line)
			continue
		}

		var props sourceProps
		if value.Kind == yaml.MappingNode {
			if err := value.Decode(&props); err != nil {
				return nil, fmt.Errorf("parsing source %s (line %d): %w", feedURL, value.Line, err)
			}
		}

		seen[feedURL] = struct{}{}
		sources = append(sources, Source{
			URL:      feedURL,
			Category: props.Category,
			LoadLink: props.LoadLink,
		})
	}
	return sources, nil
}
