// Package command synthesizes the shell commands each task kind runs. Every
// function here is pure: same inputs, same command string.
package command

import (
	"fmt"
	"strings"

	"github.com/aristath/bdencode/internal/params"
)

var x265BaseFlags = []string{
	"--no-open-gop",
	"--colorprim=bt709",
	"--colormatrix=bt709",
	"--transfer=bt709",
	"--range=limited",
	"--hist-scenecut",
	"-b=9",
	"--qcomp=0.65",
	"--qg-size=8",
	"--subme=5",
	"--tu-intra-depth=4",
	"--tu-inter-depth=4",
	"--no-strong-intra-smoothing",
	"--ctu=32",
	"--cbqpoffs=-2",
	"--crqpoffs=-2",
	"--limit-tu=0",
	"--aq-mode=3",
	"--aq-strength=0.7",
	"--merange=32",
	"-D 10",
}

// FilterBranch names the SAO/deblock flag pair chosen for a CRF.
type FilterBranch string

const (
	FilterDisabled FilterBranch = "disabled"
	FilterLimited  FilterBranch = "limited"
	FilterFull     FilterBranch = "full"
)

// BranchFor picks the filter branch: below 18 disabled, 18 through 21
// limited, above 21 full.
func BranchFor(crf float64) FilterBranch {
	switch {
	case crf < 18:
		return FilterDisabled
	case crf <= 21:
		return FilterLimited
	default:
		return FilterFull
	}
}

// Flags returns the SAO and deblock flags of the branch.
func (b FilterBranch) Flags() []string {
	switch b {
	case FilterDisabled:
		return []string{"--no-sao", "--deblock=-1:-1"}
	case FilterLimited:
		return []string{"--limit-sao", "--deblock=0:-1"}
	default:
		return []string{"--sao", "--deblock=0:0"}
	}
}

// X265Args returns the encoder arguments (without the binary name) for p.
// extra is appended after the fixed set.
func X265Args(p params.EncodeParams, extra ...string) []string {
	args := make([]string, 0, len(x265BaseFlags)+5+len(extra))
	args = append(args, "--crf="+string(p.CRF))
	if strings.TrimSpace(p.Tune) != "" {
		args = append(args, "--tune="+p.Tune)
	}
	args = append(args, "--preset="+p.Preset)
	args = append(args, x265BaseFlags...)
	args = append(args, BranchFor(p.CRF.Float()).Flags()...)
	args = append(args, extra...)
	return args
}

// Encode pipes the frame-server script into x265.
func Encode(inputScript, outputMKV string, args []string) string {
	return fmt.Sprintf(`vspipe -c y4m "%s" - | x265 --input - --y4m %s -o "%s"`,
		inputScript, strings.Join(args, " "), outputMKV)
}
