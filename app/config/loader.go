// Package config loads the optional YAML feed seed file, letting headless
// deployments register feeds without going through the admin API.
package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a seed file. A missing path is not an error;
// it simply yields no seeds.
func Load(path string) ([]FeedSeed, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feeds file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse feeds file: %w", err)
	}

	for i := range file.Feeds {
		seed := &file.Feeds[i]
		if err := validate(seed); err != nil {
			return nil, fmt.Errorf("invalid feed entry %d: %w", i+1, err)
		}
		if seed.Name == "" {
			seed.Name = hostnameOf(seed.URL)
		}
	}

	return file.Feeds, nil
}

func validate(seed *FeedSeed) error {
	if seed.URL == "" {
		return fmt.Errorf("feed URL is required")
	}
	parsed, err := url.Parse(seed.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("feed URL must be http or https: %q", seed.URL)
	}
	return nil
}

func hostnameOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return rawURL
	}
	return parsed.Hostname()
}
