package command

import (
	"errors"
	"fmt"

	"github.com/google/shlex"

	"github.com/aristath/bdencode/internal/params"
	"github.com/aristath/bdencode/internal/pipeline"
)

// ErrMissingInput is returned when a deferred task lacks its script or output path.
var ErrMissingInput = errors.New("deferred command needs input and output paths")

// ParamSource resolves the encode parameters for an episode.
type ParamSource interface {
	Resolve(episode string, hardsub bool) params.EncodeParams
}

// Builder synthesizes deferred encode commands at start time, so parameter
// edits made after graph generation still apply.
type Builder struct {
	params ParamSource
	extra  []string
}

// NewBuilder creates a builder. x265Extra is an optional shell-quoted flag
// string appended to every encode.
func NewBuilder(src ParamSource, x265Extra string) (*Builder, error) {
	extra, err := shlex.Split(x265Extra)
	if err != nil {
		return nil, fmt.Errorf("parsing x265 extra flags: %w", err)
	}
	return &Builder{params: src, extra: extra}, nil
}

// BuildCommand returns the encode pipeline for a deferred kind.
func (b *Builder) BuildCommand(episode string, kind pipeline.Kind, cp pipeline.CustomParams) (string, error) {
	d, ok := pipeline.Describe(kind)
	if !ok || !d.Deferred {
		return "", fmt.Errorf("kind %q has no deferred command", kind)
	}
	if cp.InputPath == "" || cp.OutputPath == "" {
		return "", ErrMissingInput
	}
	p := b.params.Resolve(episode, cp.Hardsub)
	return Encode(cp.InputPath, cp.OutputPath, X265Args(p, b.extra...)), nil
}
