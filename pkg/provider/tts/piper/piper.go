// Package piper provides a TTS provider that runs the Piper neural TTS binary
// locally.
//
// Text is written to the process's stdin and Piper writes a WAV file, which
// is decoded, converted to mono at the configured output rate and emitted in
// 100 ms frames.
//
//	p, err := piper.New(`piper --model /models/en_US-lessac-medium.onnx`)
package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider by shelling out to Piper.
type Provider struct {
	args       []string
	sampleRate int
	tmpDir     string

	// Piper loads the model per process; one synthesis at a time keeps memory
	// bounded on small hosts.
	mu sync.Mutex
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithSampleRate sets the output sample rate. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithTempDir sets the directory for temporary WAV files.
func WithTempDir(dir string) Option {
	return func(p *Provider) {
		p.tmpDir = dir
	}
}

// New parses command with shell quoting rules and returns a Provider. The
// provider appends --output_file (and --length_scale when a speed factor is
// requested) to the command.
func New(command string, opts ...Option) (*Provider, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("piper: parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("piper: command is empty")
	}
	p := &Provider{args: args, sampleRate: 16000}
	for _, o := range opts {
		o(p)
	}
	if p.sampleRate <= 0 {
		return nil, fmt.Errorf("piper: invalid sample rate %d", p.sampleRate)
	}
	return p, nil
}

// Synthesize implements tts.Provider. Piper runs to completion before the
// first frame is emitted.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("piper: text must not be empty")
	}
	pcm, err := p.run(ctx, text, voice)
	if err != nil {
		return nil, err
	}

	frame := p.sampleRate / 10 * 2
	out := make(chan []byte, len(pcm)/frame+1)
	go func() {
		defer close(out)
		for off := 0; off < len(pcm); off += frame {
			end := min(off+frame, len(pcm))
			select {
			case out <- pcm[off:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) run(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	file, err := os.CreateTemp(p.tmpDir, "intervox_tts_*.wav")
	if err != nil {
		return nil, fmt.Errorf("piper: temp file: %w", err)
	}
	path := file.Name()
	file.Close()
	defer os.Remove(path)

	args := append([]string{}, p.args[1:]...)
	args = append(args, "--output_file", path)
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1 {
		args = append(args, "--length_scale", strconv.FormatFloat(1/voice.SpeedFactor, 'f', 2, 64))
	}
	cmd := exec.CommandContext(ctx, p.args[0], args...)
	cmd.Stdin = strings.NewReader(text + "\n")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("piper: command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("piper: read output: %w", err)
	}
	pcm, format, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("piper: %w", err)
	}
	return audio.Convert(pcm, format, audio.Format{SampleRate: p.sampleRate, Channels: 1}), nil
}
