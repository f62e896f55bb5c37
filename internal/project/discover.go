package project

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/aristath/bdencode/internal/pipeline"
)

var (
	digits       = regexp.MustCompile(`\d+`)
	episodeDirRE = regexp.MustCompile(`^E(\d+)$`)
)

// videoExts are the raw video containers accepted as episode sources.
var videoExts = []string{".m2ts", ".mkv"}

func videoExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, v := range videoExts {
		if ext == v {
			return true
		}
	}
	return false
}

// RawVideo is a raw_video entry that matched the video pattern.
type RawVideo struct {
	Episode string
	Path    string
}

// Discover lists raw videos matching the video pattern with an accepted
// extension, in episode order. The episode id is the first digit run of the
// file name.
func (p *Project) Discover() ([]RawVideo, error) {
	entries, err := os.ReadDir(p.layout.RawVideoDir())
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", pipeline.RawVideoDirName, err)
	}

	var out []RawVideo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !p.video.MatchString(name) {
			p.logger.Debug("raw video does not match pattern", "file", name)
			continue
		}
		if !videoExt(name) {
			p.logger.Debug("raw video has unsupported extension", "file", name)
			continue
		}
		ep := digits.FindString(name)
		if ep == "" {
			continue
		}
		out = append(out, RawVideo{Episode: ep, Path: filepath.Join(p.layout.RawVideoDir(), name)})
	}
	sort.SliceStable(out, func(i, j int) bool { return pipeline.EpisodeLess(out[i].Episode, out[j].Episode) })
	return out, nil
}

// Episodes lists episodes whose folder has been set up, identified by the
// frame-server script written during setup. This survives move mode and the
// cleanup task deleting the source copy.
func (p *Project) Episodes() ([]string, error) {
	entries, err := os.ReadDir(p.layout.Root)
	if err != nil {
		return nil, fmt.Errorf("reading project root: %w", err)
	}

	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := episodeDirRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if _, err := os.Stat(p.layout.ScriptPath(m[1])); err != nil {
			continue
		}
		out = append(out, m[1])
	}
	sort.Slice(out, func(i, j int) bool { return pipeline.EpisodeLess(out[i], out[j]) })
	return out, nil
}

// sourcePath finds E<NN>/source.*. Once the cleanup task has removed it the
// path still names the expected file so downstream commands stay well formed.
func (p *Project) sourcePath(episode string) string {
	dir := p.layout.EpisodeDir(episode)
	for _, ext := range videoExts {
		path := filepath.Join(dir, "source"+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(dir, "source.m2ts")
}
