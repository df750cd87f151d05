package ci

import (
	"encoding/json"
	"fmt"

	"github.com/sciregistry/collection-engine/pkg/models"
)

// ParseMatrix decodes a job matrix document of the form
// {"include": [{"resource_id": ..., "version_id": ...}, ...]}.
// Only include matrices are supported; a document carrying exclude or any
// other matrix dimension is rejected rather than silently half-interpreted.
func ParseMatrix(data []byte) ([]models.WorkItem, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed matrix document: %w", err)
	}
	for key := range raw {
		if key != "include" {
			return nil, fmt.Errorf("unsupported matrix key %q", key)
		}
	}

	var items []models.WorkItem
	if inc, ok := raw["include"]; ok {
		if err := json.Unmarshal(inc, &items); err != nil {
			return nil, fmt.Errorf("malformed matrix include list: %w", err)
		}
	}
	for i, item := range items {
		if item.ResourceID == "" || item.VersionID == "" {
			return nil, fmt.Errorf("matrix item %d is missing resource or version id", i)
		}
	}
	return items, nil
}
