// Package kaggle publishes dataset versions through the kaggle CLI.
package kaggle

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

const defaultBinary = "kaggle"

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Config controls the CLI invocation.
type Config struct {
	// Binary is the kaggle executable; defaults to "kaggle" on PATH.
	Binary string
	// DirMode is passed as --dir-mode when set (skip, zip or tar).
	DirMode string
}

// Publisher runs `kaggle datasets version -p <dir> -m <note>`.
type Publisher struct {
	cfg    Config
	run    Runner
	logger *zap.Logger
}

// New builds a Publisher. A nil runner executes the real binary.
func New(cfg Config, run Runner, logger *zap.Logger) *Publisher {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if run == nil {
		run = execRunner
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{cfg: cfg, run: run, logger: logger}
}

// PublishVersion creates a new version of the dataset described by dir's metadata file.
func (p *Publisher) PublishVersion(ctx context.Context, dir string, note string) error {
	args := []string{"datasets", "version", "-p", dir, "-m", note}
	if p.cfg.DirMode != "" {
		args = append(args, "--dir-mode", p.cfg.DirMode)
	}
	out, err := p.run(ctx, p.cfg.Binary, args...)
	if err != nil {
		return fmt.Errorf("kaggle datasets version: %w: %s", err, strings.TrimSpace(string(out)))
	}
	p.logger.Info("dataset version published",
		zap.String("dir", dir),
		zap.String("note", note),
		zap.String("output", strings.TrimSpace(string(out))),
	)
	return nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
