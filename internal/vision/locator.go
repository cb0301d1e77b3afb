// Package vision finds on-screen UI elements by description using a
// vision-capable model.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"log/slog"
	"strings"

	"github.com/nugget/korb/internal/llm"
)

// Capturer takes a screenshot and returns encoded image bytes.
type Capturer interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// ProviderResolver returns a configured model provider. *llm.Factory
// satisfies it.
type ProviderResolver interface {
	Resolve(name, systemInstruction string) (llm.Provider, error)
}

const systemPrompt = "You locate user interface elements in screenshots and answer only with JSON."

const locatePrompt = `I am looking at a screenshot of a computer desktop. The resolution is %dx%d.
Find the UI element described as: "%s".

Return the center coordinates of this element.
Output MUST be a JSON object with keys "x" and "y".
Example: {"x": 500, "y": 300}

If the element is not visible, return null.`

// Locator asks a model where an element is on the current screen.
type Locator struct {
	capture  Capturer
	models   ProviderResolver
	provider string
	logger   *slog.Logger
}

// NewLocator creates a Locator that sends screenshots to the named
// provider.
func NewLocator(capture Capturer, models ProviderResolver, provider string, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{capture: capture, models: models, provider: provider, logger: logger}
}

// Locate returns the center of the element matching description. ok is
// false when the model reports the element is not visible.
func (l *Locator) Locate(ctx context.Context, description string) (pt image.Point, ok bool, err error) {
	shot, err := l.capture.Screenshot(ctx)
	if err != nil {
		return image.Point{}, false, fmt.Errorf("capture screen: %w", err)
	}

	width, height := 0, 0
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(shot)); err == nil {
		width, height = cfg.Width, cfg.Height
	}

	provider, err := l.models.Resolve(l.provider, systemPrompt)
	if err != nil {
		return image.Point{}, false, fmt.Errorf("vision provider: %w", err)
	}

	prompt := fmt.Sprintf(locatePrompt, width, height, description)
	stream, err := provider.StreamChat(ctx, nil, prompt, []llm.Image{{Data: shot, MimeType: "image/png"}})
	if err != nil {
		return image.Point{}, false, fmt.Errorf("vision request: %w", err)
	}
	reply, err := llm.Collect(stream)
	if err != nil {
		return image.Point{}, false, fmt.Errorf("vision response: %w", err)
	}

	pt, ok = parseCoordinates(reply)
	if !ok {
		l.logger.Info("vision model did not find element", "description", description, "reply", reply)
		return image.Point{}, false, nil
	}
	if width > 0 && height > 0 && (pt.X < 0 || pt.Y < 0 || pt.X >= width || pt.Y >= height) {
		l.logger.Warn("vision coordinates outside screen", "x", pt.X, "y", pt.Y, "width", width, "height", height)
		return image.Point{}, false, nil
	}
	return pt, true, nil
}

// parseCoordinates extracts {"x": .., "y": ..} from the outermost braces
// of a model reply.
func parseCoordinates(reply string) (image.Point, bool) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return image.Point{}, false
	}

	var coords struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &coords); err != nil {
		return image.Point{}, false
	}
	if coords.X == nil || coords.Y == nil {
		return image.Point{}, false
	}
	return image.Point{X: int(*coords.X), Y: int(*coords.Y)}, true
}
