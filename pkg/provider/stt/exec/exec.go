// Package exec provides an STT provider that runs a local recognizer command,
// for example the whisper.cpp CLI.
//
// The utterance is written to a temporary WAV file. Every "{audio}" in the
// command line is replaced with that file's path; when no placeholder is
// present the path is appended as the last argument. The command's stdout is
// either a JSON object {"text": "...", "confidence": 0.9} or plain text.
//
//	p, err := exec.New(`whisper-cli -m ggml-base.en.bin -nt -np -f {audio}`)
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/stt"
)

const audioPlaceholder = "{audio}"

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider by shelling out to a recognizer command.
type Provider struct {
	args   []string
	tmpDir string
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithTempDir sets the directory for temporary WAV files. Defaults to
// os.TempDir().
func WithTempDir(dir string) Option {
	return func(p *Provider) {
		p.tmpDir = dir
	}
}

// New parses command with shell quoting rules and returns a Provider.
func New(command string, opts ...Option) (*Provider, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("exec stt: parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("exec stt: command is empty")
	}
	p := &Provider{args: args}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if len(req.PCM) == 0 {
		return stt.Transcript{}, nil
	}
	file, err := os.CreateTemp(p.tmpDir, "intervox_stt_*.wav")
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("exec stt: temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	w := audio.NewWAVWriter(file, audio.Format{SampleRate: req.SampleRate, Channels: 1})
	if err := w.Write(req.PCM); err != nil {
		return stt.Transcript{}, fmt.Errorf("exec stt: %w", err)
	}
	if err := w.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("exec stt: %w", err)
	}

	args := expandArgs(p.args, file.Name())
	cmd := osexec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, osexec.ErrNotFound) {
			return stt.Transcript{}, stt.Rejected("exec stt: %v", err)
		}
		return stt.Transcript{}, fmt.Errorf("exec stt: command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseOutput(stdout.Bytes()), nil
}

// expandArgs substitutes the audio placeholder, appending the path when the
// command does not reference it.
func expandArgs(template []string, path string) []string {
	args := make([]string, len(template))
	found := false
	for i, a := range template {
		if strings.Contains(a, audioPlaceholder) {
			found = true
			a = strings.ReplaceAll(a, audioPlaceholder, path)
		}
		args[i] = a
	}
	if !found {
		args = append(args, path)
	}
	return args
}

func parseOutput(out []byte) stt.Transcript {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var res execResult
		if err := json.Unmarshal(trimmed, &res); err == nil {
			return stt.Transcript{Text: strings.TrimSpace(res.Text), Confidence: res.Confidence, Language: res.Language}
		}
	}
	return stt.Transcript{Text: strings.Join(strings.Fields(string(trimmed)), " ")}
}
