package runlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
)

// State is the persisted journal.
type State struct {
	Entries   []Entry   `json:"entries"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoadState reads the journal from a JSON file. Returns an empty state if the file doesn't exist.
func LoadState(filePath string) (*State, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, eris.Wrapf(err, "runlog: read %s", filePath)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, eris.Wrapf(err, "runlog: decode %s", filePath)
	}
	return &state, nil
}

// SaveState writes the journal to a JSON file atomically.
func SaveState(filePath string, state *State) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return eris.Wrap(err, "runlog: encode")
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return eris.Wrap(err, "runlog: create dir")
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "runlog: write %s", tmp)
	}
	return eris.Wrap(os.Rename(tmp, filePath), "runlog: replace journal")
}
