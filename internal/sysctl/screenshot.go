package sysctl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Screenshot captures the screen and returns PNG bytes.
func (c *Controller) Screenshot(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "korb-shot-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	file := filepath.Join(dir, "screen.png")

	switch c.platform {
	case "linux":
		err = c.run(ctx, "scrot", "--overwrite", file)
		if err != nil {
			err = c.run(ctx, "import", "-window", "root", file)
		}
	case "darwin":
		err = c.run(ctx, "screencapture", "-x", file)
	default:
		return nil, fmt.Errorf("screenshots not supported on %s", c.platform)
	}
	if err != nil {
		return nil, fmt.Errorf("capture screen: %w", err)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read screenshot: %w", err)
	}
	return data, nil
}
