package core

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// Scene is one planned segment of the final video.
type Scene struct {
	Index           int     `json:"index"`
	Text            string  `json:"text"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// ScenePlanMetadata encodes scenes into an artifact metadata map.
func ScenePlanMetadata(scenes []Scene) (datatypes.JSONMap, error) {
	raw, err := json.Marshal(scenes)
	if err != nil {
		return nil, fmt.Errorf("reelpipe: encode scene plan: %w", err)
	}
	var entries []any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("reelpipe: encode scene plan: %w", err)
	}
	return datatypes.JSONMap{"scenes": entries}, nil
}

// ScenesFromMetadata decodes scenes from an artifact metadata map written
// by ScenePlanMetadata.
func ScenesFromMetadata(m datatypes.JSONMap) ([]Scene, error) {
	entries, ok := m["scenes"]
	if !ok {
		return nil, fmt.Errorf("reelpipe: scene plan metadata has no scenes key")
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("reelpipe: decode scene plan: %w", err)
	}
	var scenes []Scene
	if err := json.Unmarshal(raw, &scenes); err != nil {
		return nil, fmt.Errorf("reelpipe: decode scene plan: %w", err)
	}
	return scenes, nil
}
