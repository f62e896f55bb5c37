package project

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/aristath/bdencode/internal/pipeline"
)

// templatePlaceholder is the line in template.vpy replaced by the episode's
// source path.
const templatePlaceholder = `file_path = ""`

// Generate validates the project, sets up every discovered raw video and
// returns the episodes that are ready for task generation.
func (p *Project) Generate() ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	videos, err := p.Discover()
	if err != nil {
		return nil, err
	}
	for _, v := range videos {
		if err := p.Setup(v); err != nil {
			return nil, fmt.Errorf("setting up episode %s: %w", v.Episode, err)
		}
	}
	return p.Episodes()
}

// Setup prepares E<NN>/ for one raw video: the source copy, matching subtitle
// and chapter files, the episode script from template.vpy and one hardsub
// script per language.
func (p *Project) Setup(v RawVideo) error {
	dir := p.layout.EpisodeDir(v.Episode)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	target := filepath.Join(dir, "source"+strings.ToLower(filepath.Ext(v.Path)))
	if err := p.placeSource(v.Path, target); err != nil {
		return err
	}

	if err := p.copyMatching(p.layout.SubtitlesDir(), ".ass", v.Episode, dir, p.subtitle.MatchString); err != nil {
		return err
	}
	if err := p.copyMatching(p.layout.ChaptersDir(), ".txt", v.Episode, dir, p.chapter.MatchString); err != nil {
		return err
	}

	if err := p.writeEpisodeScript(v.Episode, target); err != nil {
		return err
	}
	for _, lang := range pipeline.HardsubLanguages {
		script := HardsubScript(p.layout.VideoPath(v.Episode), p.layout.RenamedSubtitlePath(v.Episode, lang), p.layout.SubsettedFontsDir(v.Episode))
		if err := os.WriteFile(p.layout.HardsubScriptPath(v.Episode, lang), []byte(script), 0o644); err != nil {
			return fmt.Errorf("writing %s hardsub script: %w", lang, err)
		}
	}
	return nil
}

// placeSource copies or moves the raw video into place. An existing copy of
// the same size is kept as is.
func (p *Project) placeSource(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if dstInfo, err := os.Stat(dst); err == nil {
		if dstInfo.Size() == srcInfo.Size() {
			p.logger.Info("source already in place, skipping", "target", dst)
			return nil
		}
		p.logger.Info("source exists with a different size, replacing", "target", dst)
		if err := os.Remove(dst); err != nil {
			return fmt.Errorf("removing stale source: %w", err)
		}
	}

	if p.move {
		p.logger.Info("moving source", "from", src, "to", dst)
		return moveFile(src, dst)
	}
	p.logger.Info("copying source", "from", src, "to", dst)
	return copyFile(src, dst)
}

// copyMatching copies files with ext from dir whose name matches and contains
// the episode id.
func (p *Project) copyMatching(dir, ext, episode, dst string, match func(string) bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ext || !match(name) || !strings.Contains(name, episode) {
			continue
		}
		if err := copyFile(filepath.Join(dir, name), filepath.Join(dst, name)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Project) writeEpisodeScript(episode, source string) error {
	tmpl, err := os.ReadFile(p.layout.TemplatePath())
	if err != nil {
		return fmt.Errorf("reading template: %w", err)
	}
	content := strings.ReplaceAll(string(tmpl), templatePlaceholder, fmt.Sprintf(`file_path = r"%s"`, source))
	if err := os.WriteFile(p.layout.ScriptPath(episode), []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing episode script: %w", err)
	}
	return nil
}

// copyFile streams src to dst, keeping the source's mode and modification time.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// moveFile renames src to dst, falling back to copy and delete across
// filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, unix.EXDEV) {
		return fmt.Errorf("moving %s: %w", src, err)
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
