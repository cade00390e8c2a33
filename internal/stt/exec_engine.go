package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/mattn/go-shellwords"
)

type execEngine struct {
	cmd        []string
	cfg        config.STTConfig
	tuning     Tuning
	sampleRate int
	mu         sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewExecEngine runs an external recognizer per request. The command gets a
// temporary WAV file via --audio and must print {"text": ..., "confidence": ...}.
func NewExecEngine(cfg config.STTConfig, sampleRate int) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execEngine{cmd: args, cfg: cfg, tuning: TuningFromConfig(cfg), sampleRate: sampleRate}, nil
}

func (e *execEngine) Load(ctx context.Context) error {
	if _, err := exec.LookPath(e.cmd[0]); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if e.cfg.ModelPath != "" {
		if _, err := os.Stat(e.cfg.ModelPath); err != nil {
			return fmt.Errorf("%w: model: %w", ErrUnavailable, err)
		}
	}
	return nil
}

func (e *execEngine) Transcribe(ctx context.Context, samples []float32, mode Mode) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "loqa_dictate_*.wav")
	if err != nil {
		return Snapshot{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.WriteWAV(file, samples, e.sampleRate); err != nil {
		return Snapshot{}, err
	}

	command := exec.CommandContext(ctx, e.cmd[0], e.args(file.Name(), mode)...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Snapshot{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Snapshot{}, fmt.Errorf("decode stt response: %w", err)
	}
	return Snapshot{Text: resp.Text, Confidence: resp.Confidence, Final: mode == ModeQuality}, nil
}

func (e *execEngine) args(path string, mode Mode) []string {
	params := e.tuning.For(mode)
	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", path, "--mode", mode.String())
	if e.cfg.ModelPath != "" {
		args = append(args, "--model", e.cfg.ModelPath)
	}
	if e.cfg.Language != "" {
		args = append(args, "--language", e.cfg.Language)
	}
	if params.BeamSize > 0 {
		args = append(args, "--beam-size", strconv.Itoa(params.BeamSize))
	}
	if params.BestOf > 0 {
		args = append(args, "--best-of", strconv.Itoa(params.BestOf))
	}
	return args
}
