package manager

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/CodeMonkeyCybersecurity/oastengine/pkg/types"
)

// loadState reads the non-confidential EngineState document. A missing
// file is not an error: it means this is the first run.
func loadState(path string) (types.EngineState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.EngineState{}, nil
		}
		return types.EngineState{}, fmt.Errorf("read engine state: %w", err)
	}

	var state types.EngineState
	if err := json.Unmarshal(data, &state); err != nil {
		return types.EngineState{}, fmt.Errorf("parse engine state: %w", err)
	}
	return state, nil
}

// saveState writes the EngineState document atomically: write to a
// sibling .tmp file, then rename over the real path.
func saveState(path string, state types.EngineState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal engine state: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("write temp engine state: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename engine state into place: %w", err)
	}

	return nil
}
