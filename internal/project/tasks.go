package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aristath/bdencode/internal/command"
	"github.com/aristath/bdencode/internal/pipeline"
	"github.com/aristath/bdencode/internal/scheduler"
)

// TaskSpecs generates the full task set of one episode, one spec per known
// kind. Deferred kinds carry the script and output paths their encode command
// is built from at start time. A missing subtitle or chapter file only marks
// the tasks that read it with a SetupErr.
func (p *Project) TaskSpecs(episode string) ([]scheduler.TaskSpec, error) {
	l := p.layout
	dir := l.EpisodeDir(episode)

	subtitles, subErr := p.episodeSubtitles(episode)
	chapters, chapErr := p.episodeChapters(episode)
	source := p.sourcePath(episode)

	var specs []scheduler.TaskSpec
	for _, kind := range pipeline.Kinds() {
		d, _ := pipeline.Describe(kind)
		spec := scheduler.TaskSpec{Episode: episode, Kind: kind, WorkDir: dir}

		switch {
		case kind == pipeline.KindSubtitleProcess:
			if spec.SetupErr = subErr; subErr == nil {
				spec.Command = command.SubtitleProcess(l, episode, subtitles)
			}
		case kind == pipeline.KindSubtitleCleanup:
			spec.Command = command.SubtitleCleanup(p.originalSubtitles(episode))
		case kind == pipeline.KindAudio:
			spec.Command = command.Audio(l, episode, source)
		case kind == pipeline.KindVideo:
			spec.Params = pipeline.CustomParams{InputPath: l.ScriptPath(episode), OutputPath: l.VideoPath(episode)}
		case kind == pipeline.KindMerge:
			spec.Command = command.Merge(l, episode)
		case kind == pipeline.KindMux:
			if spec.SetupErr = chapErr; chapErr == nil {
				spec.Command = command.Mux(l, episode, chapters)
			}
		case kind == pipeline.KindOrganize:
			spec.Command = command.Organize(l, episode)
		case kind == pipeline.KindCleanup:
			spec.Command = command.Cleanup(source)
		case d.Hardsub:
			spec.Params = pipeline.CustomParams{
				InputPath:  l.HardsubScriptPath(episode, d.Lang),
				OutputPath: l.HardsubPath(episode, d.Lang),
				Hardsub:    true,
			}
		case d.Lang != "":
			if spec.SetupErr = chapErr; chapErr == nil {
				spec.Command = command.HardsubMerge(l, episode, d.Lang, chapters)
			}
		default:
			return nil, fmt.Errorf("no command for kind %s", kind)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Tasks generates the tasks of every set-up episode.
func (p *Project) Tasks() ([]*scheduler.Task, error) {
	episodes, err := p.Episodes()
	if err != nil {
		return nil, err
	}
	var tasks []*scheduler.Task
	for _, ep := range episodes {
		specs, err := p.TaskSpecs(ep)
		if err != nil {
			return nil, fmt.Errorf("episode %s: %w", ep, err)
		}
		for _, s := range specs {
			tasks = append(tasks, scheduler.NewTask(s))
		}
	}
	return tasks, nil
}

// Graph builds the task graph of every set-up episode. Tasks whose outputs
// the checker already finds are adopted as completed.
func (p *Project) Graph(checker scheduler.CompletionChecker) (*scheduler.Graph, error) {
	tasks, err := p.Tasks()
	if err != nil {
		return nil, err
	}
	return scheduler.NewGraph(tasks, checker)
}

// episodeSubtitles returns the first *<lang>_jpn.ass per hardsub language.
// Once subtitle processing has run the originals may be gone; that is only
// an error while its output is missing too.
func (p *Project) episodeSubtitles(episode string) ([]string, error) {
	dir := p.layout.EpisodeDir(episode)
	var out []string
	for _, lang := range pipeline.HardsubLanguages {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+lang+"_jpn.ass"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		if len(matches) > 0 {
			out = append(out, matches[0])
		}
	}
	if len(out) == 0 {
		if _, err := os.Stat(p.layout.SubsettedFontsDir(episode)); err != nil {
			return nil, fmt.Errorf("no subtitle files found in %s", dir)
		}
	}
	return out, nil
}

// originalSubtitles lists the episode's subtitles other than the renamed
// outputs of subtitle processing.
func (p *Project) originalSubtitles(episode string) []string {
	matches, _ := filepath.Glob(filepath.Join(p.layout.EpisodeDir(episode), "*.ass"))
	sort.Strings(matches)
	var out []string
	for _, m := range matches {
		if !strings.HasSuffix(m, ".rename.ass") {
			out = append(out, m)
		}
	}
	return out
}

func (p *Project) episodeChapters(episode string) (string, error) {
	dir := p.layout.EpisodeDir(episode)
	matches, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no chapter file found in %s", dir)
	}
	sort.Strings(matches)
	return matches[0], nil
}
