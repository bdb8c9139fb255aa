package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// seedsFile is the --seeds-file layout. A bare YAML list is accepted as well.
type seedsFile struct {
	Seeds []string `yaml:"seeds"`
}

// resolveSeeds returns args when given, otherwise the seeds listed in path. An empty result
// means the configured seeds are used.
func resolveSeeds(args []string, path string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if path == "" {
		return nil, nil
	}
	return loadSeedsFile(path)
}

func loadSeedsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seeds file: %w", err)
	}

	var file seedsFile
	if err := yaml.Unmarshal(data, &file); err == nil && len(file.Seeds) > 0 {
		return file.Seeds, nil
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse seeds file %s: %w", path, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("seeds file %s lists no seeds", path)
	}
	return list, nil
}
