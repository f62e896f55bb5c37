package pipeline

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Well-known entries under a project root.
const (
	RawVideoDirName  = "raw_video"
	SubtitlesDirName = "subtitles"
	ChaptersDirName  = "chapters"
	FontsDirName     = "fonts"
	ResultDirName    = "result"
	TemplateName     = "template.vpy"
	StateDirName     = ".bdencode"
)

// RequiredDirs must exist under the project root before episodes can be generated.
var RequiredDirs = []string{RawVideoDirName, SubtitlesDirName, ChaptersDirName, FontsDirName}

// Layout resolves every path the pipeline reads or writes for a project root.
// Episode directories are zero padded (E01); intermediate audio artifacts keep
// the raw episode id (output1.flac for episode "1").
type Layout struct {
	Root string
}

// PadEpisode left-pads an episode id with zeros to two digits.
func PadEpisode(episode string) string {
	if len(episode) >= 2 {
		return episode
	}
	return strings.Repeat("0", 2-len(episode)) + episode
}

// EpisodeLess orders episode ids numerically, falling back to string order
// for ids that are not numbers.
func EpisodeLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		if ai != bi {
			return ai < bi
		}
		return a < b
	}
	if aerr == nil {
		return true
	}
	if berr == nil {
		return false
	}
	return a < b
}

func (l Layout) RawVideoDir() string  { return filepath.Join(l.Root, RawVideoDirName) }
func (l Layout) SubtitlesDir() string { return filepath.Join(l.Root, SubtitlesDirName) }
func (l Layout) ChaptersDir() string  { return filepath.Join(l.Root, ChaptersDirName) }
func (l Layout) FontsDir() string     { return filepath.Join(l.Root, FontsDirName) }
func (l Layout) ResultDir() string    { return filepath.Join(l.Root, ResultDirName) }
func (l Layout) TemplatePath() string { return filepath.Join(l.Root, TemplateName) }
func (l Layout) StateDir() string     { return filepath.Join(l.Root, StateDirName) }

// EpisodeDir returns {root}/E{NN}.
func (l Layout) EpisodeDir(episode string) string {
	return filepath.Join(l.Root, "E"+PadEpisode(episode))
}

func (l Layout) episodeFile(episode, name string) string {
	return filepath.Join(l.EpisodeDir(episode), name)
}

// ScriptPath is the frame-server script for the normal encode ({NN}.vpy).
func (l Layout) ScriptPath(episode string) string {
	return l.episodeFile(episode, PadEpisode(episode)+".vpy")
}

// HardsubScriptPath is the frame-server script rendering subtitles for lang.
func (l Layout) HardsubScriptPath(episode, lang string) string {
	return l.episodeFile(episode, lang+".vpy")
}

func (l Layout) VideoPath(episode string) string {
	return l.episodeFile(episode, "video.mkv")
}

func (l Layout) WavPath(episode string) string {
	return l.episodeFile(episode, "audio"+episode+".wav")
}

func (l Layout) FlacPath(episode string) string {
	return l.episodeFile(episode, "output"+episode+".flac")
}

func (l Layout) AACPath(episode string) string {
	return l.episodeFile(episode, "audio"+episode+".aac")
}

func (l Layout) SubsettedFontsDir(episode string) string {
	return l.episodeFile(episode, "subsetted_fonts")
}

func (l Layout) MergedPath(episode string) string {
	return l.episodeFile(episode, "final_output.mkv")
}

func (l Layout) MuxedPath(episode string) string {
	return l.episodeFile(episode, "final_with_subs.mkv")
}

func (l Layout) TempDir(episode string) string {
	return l.episodeFile(episode, "temp")
}

// HardsubPath is the rendered hardsub video stream for lang ({lang}.mkv).
func (l Layout) HardsubPath(episode, lang string) string {
	return l.episodeFile(episode, lang+".mkv")
}

// HardsubMergedPath is the hardsub video muxed with audio (final_{lang}.mkv).
func (l Layout) HardsubMergedPath(episode, lang string) string {
	return l.episodeFile(episode, "final_"+lang+".mkv")
}

// RenamedSubtitlePath is the subtitle produced by font subsetting for lang.
func (l Layout) RenamedSubtitlePath(episode, lang string) string {
	return l.episodeFile(episode, PadEpisode(episode)+"."+lang+"_jpn.rename.ass")
}

// ResultPath is a packaged deliverable under result/, suffix being
// "complete" or a hardsub language.
func (l Layout) ResultPath(episode, suffix string) string {
	return filepath.Join(l.ResultDir(), "E"+PadEpisode(episode)+"_"+suffix+".mkv")
}
