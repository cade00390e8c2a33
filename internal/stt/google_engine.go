package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

type googleEngine struct {
	language   string
	sampleRate int
	tuning     Tuning

	mu     sync.Mutex
	client *speech.Client
}

// NewGoogleEngine uses Cloud Speech-to-Text synchronous recognition.
// Credentials come from the environment (GOOGLE_APPLICATION_CREDENTIALS).
func NewGoogleEngine(cfg config.STTConfig, sampleRate int) Engine {
	language := cfg.Language
	if language == "" || language == "en" {
		language = "en-US"
	}
	return &googleEngine{language: language, sampleRate: sampleRate, tuning: TuningFromConfig(cfg)}
}

func (g *googleEngine) Load(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return nil
	}
	client, err := speech.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("%w: create speech client: %w", ErrUnavailable, err)
	}
	g.client = client
	return nil
}

func (g *googleEngine) Transcribe(ctx context.Context, samples []float32, mode Mode) (Snapshot, error) {
	g.mu.Lock()
	client := g.client
	g.mu.Unlock()
	if client == nil {
		return Snapshot{}, fmt.Errorf("%w: speech client not loaded", ErrUnavailable)
	}

	params := g.tuning.For(mode)
	recognition := &speechpb.RecognitionConfig{
		Encoding:        speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz: int32(g.sampleRate),
		LanguageCode:    g.language,
		Model:           params.Model,
	}
	if mode == ModeQuality {
		recognition.UseEnhanced = true
		recognition.EnableAutomaticPunctuation = true
		if params.BestOf > 1 {
			recognition.MaxAlternatives = int32(params.BestOf)
		}
	}

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: recognition,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio.EncodePCM16(samples)},
		},
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("recognize: %w", err)
	}

	var parts []string
	var confidence float64
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		best := result.Alternatives[0]
		parts = append(parts, strings.TrimSpace(best.Transcript))
		confidence += float64(best.Confidence)
	}
	if len(parts) > 0 {
		confidence /= float64(len(parts))
	}
	return Snapshot{Text: strings.Join(parts, " "), Confidence: confidence, Final: mode == ModeQuality}, nil
}

func (g *googleEngine) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}
