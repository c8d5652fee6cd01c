package experts

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// catalog is the on-disk shape of a standalone group file.
type catalog struct {
	Groups []Group `yaml:"groups"`
}

// LoadGroups parses expert group definitions from a YAML catalog. Groups
// omitting a weight default to 1.0 before validation.
func LoadGroups(reader io.Reader) ([]Group, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read group catalog: %w", err)
	}

	var cat catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse group catalog: %w", err)
	}
	if len(cat.Groups) == 0 {
		return nil, fmt.Errorf("group catalog defines no groups")
	}

	for i := range cat.Groups {
		if cat.Groups[i].Weight == 0 {
			cat.Groups[i].Weight = 1.0
		}
		if err := cat.Groups[i].Validate(); err != nil {
			return nil, err
		}
	}
	return cat.Groups, nil
}

// LoadGroupsFile reads a group catalog from disk. It lets deployments keep
// the expert catalog separate from the service configuration.
func LoadGroupsFile(path string) ([]Group, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open group catalog %s: %w", path, err)
	}
	defer f.Close()
	return LoadGroups(f)
}
