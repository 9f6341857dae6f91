package patterns

import (
	"embed"
	"fmt"
	"path"
)

//go:embed shipped/*.json
var shippedFS embed.FS

// LoadShipped registers the patterns built into the binary.
func (l *Library) LoadShipped() error {
	entries, err := shippedFS.ReadDir("shipped")
	if err != nil {
		return fmt.Errorf("failed to read shipped patterns: %w", err)
	}
	for _, entry := range entries {
		data, err := shippedFS.ReadFile(path.Join("shipped", entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read pattern %s: %w", entry.Name(), err)
		}
		p, err := Load(data)
		if err != nil {
			return fmt.Errorf("shipped pattern %s: %w", entry.Name(), err)
		}
		if err := l.Add(p); err != nil {
			return err
		}
	}
	return nil
}
