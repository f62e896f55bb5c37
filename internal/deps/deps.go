// Package deps reports whether the external tools the pipeline shells out to
// are installed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement defines an external binary a pipeline stage runs.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Requirement
	Available bool
	Path      string
	Detail    string
}

// Pipeline lists the binaries task commands invoke, plus the task shell.
func Pipeline(shell string) []Requirement {
	return []Requirement{
		{Name: "Shell", Command: shell, Description: "runs every task command"},
		{Name: "VapourSynth", Command: "vspipe", Description: "video and hardsub script evaluation"},
		{Name: "x265", Command: "x265", Description: "HEVC encoding"},
		{Name: "FFmpeg", Command: "ffmpeg", Description: "audio decode and AAC transcode"},
		{Name: "flaldf", Command: "flaldf", Description: "lossless FLAC encoding"},
		{Name: "assfonts", Command: "assfonts", Description: "subtitle font subsetting"},
		{Name: "mkvmerge", Command: "mkvmerge", Description: "merge, mux and hardsub merge"},
		{Name: "mkvextract", Command: "mkvextract", Description: "track extraction", Optional: true},
		{Name: "mkvpropedit", Command: "mkvpropedit", Description: "container property edits", Optional: true},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		req.Description = strings.TrimSpace(req.Description)
		status := Status{Requirement: req}

		if req.Command == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(req.Command)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", req.Command)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		results = append(results, status)
	}
	return results
}

// Missing returns the names of unavailable required binaries.
func Missing(results []Status) []string {
	var out []string
	for _, s := range results {
		if !s.Available && !s.Optional {
			out = append(out, s.Name)
		}
	}
	return out
}
