package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/cliniclink-api/internal/rubric"
)

// DefaultDraftFile is used when neither --file nor RUBRICCTL_FILE is set.
const DefaultDraftFile = "rubric.yaml"

// LoadDraft reads a rubric draft from disk.
func LoadDraft(path string) (*rubric.FormState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no draft at %s, run `rubricctl new` or `rubricctl pull` first", path)
		}
		return nil, fmt.Errorf("read draft: %w", err)
	}
	var state rubric.FormState
	if err := yaml.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("parse draft %s: %w", path, err)
	}
	return &state, nil
}

// SaveDraft writes the draft back to disk.
func SaveDraft(path string, state *rubric.FormState) error {
	raw, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write draft: %w", err)
	}
	return nil
}
