package memory

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/petasbytes/market-agent/internal/fsops"
)

// LoadConversation reads a transcript written by SaveConversation. A missing
// file yields nil, nil.
func LoadConversation(path string) ([]Turn, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var turns []Turn
	if err := json.Unmarshal(b, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

// SaveConversation writes turns as indented JSON, replacing path atomically.
func SaveConversation(path string, turns []Turn) error {
	b, err := json.MarshalIndent(turns, "", " ")
	if err != nil {
		return err
	}
	return fsops.WriteFileAtomic(path, b, 0o644)
}

// Load replaces the buffer contents with the transcript at path, keeping
// only the newest Max turns.
func (b *Buffer) Load(path string) error {
	turns, err := LoadConversation(path)
	if err != nil {
		return err
	}
	b.Reset()
	b.Append(turns...)
	return nil
}

// Save writes the buffer contents to path.
func (b *Buffer) Save(path string) error {
	return SaveConversation(path, b.Turns())
}
