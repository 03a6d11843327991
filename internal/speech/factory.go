// Package speech selects and constructs the external AI provider stack.
package speech

import (
	"fmt"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/speech/azure"
	"github.com/voxgate/voxgate/internal/speech/mock"
	"github.com/voxgate/voxgate/internal/speech/openai"
	"github.com/voxgate/voxgate/pkg/models"
)

// composite joins a recognizer/synthesizer pair with an enhancer into one
// SpeechProvider. The azure stack uses Azure Speech for audio and an
// OpenAI-compatible chat model for the LLM passes.
type composite struct {
	models.Recognizer
	models.Synthesizer
	models.Enhancer
	name string
}

func (c *composite) Name() string { return c.name }

// NewProvider constructs the configured speech provider.
// Called once at server startup.
func NewProvider(cfg config.SpeechConfig) (models.SpeechProvider, error) {
	switch cfg.Provider {
	case "azure":
		az := azure.NewClient(cfg.Azure, cfg.RequestTimeout)
		return &composite{
			Recognizer:  az,
			Synthesizer: az,
			Enhancer:    openai.NewEnhancer(cfg.OpenAI, cfg.RequestTimeout),
			name:        "azure",
		}, nil
	case "mock":
		return mock.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown speech provider %q: must be one of azure, mock", cfg.Provider)
	}
}
