package command

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aristath/bdencode/internal/pipeline"
)

// Audio decodes the source audio to 24-bit PCM, encodes a FLAC for the
// soft-subbed release and an AAC for the hardsub releases.
func Audio(l pipeline.Layout, episode, source string) string {
	wav := l.WavPath(episode)
	return fmt.Sprintf(`ffmpeg -i "%s" -c:a pcm_s24le "%s" && `, source, wav) +
		fmt.Sprintf(`flaldf "%s" -o "%s" && `, wav, l.FlacPath(episode)) +
		fmt.Sprintf(`ffmpeg -i "%s" -c:a aac_at  -global_quality:a 14 -aac_at_mode 2 -b:a 320k "%s"`, wav, l.AACPath(episode))
}

// SubtitleProcess subsets the project fonts for the given subtitles and
// renames the rewritten subtitles to {NN}.{lang}_jpn.rename.ass.
func SubtitleProcess(l pipeline.Layout, episode string, subtitles []string) string {
	var b strings.Builder
	b.WriteString("assfonts")
	for _, path := range subtitles {
		fmt.Fprintf(&b, ` -i "%s"`, path)
	}
	fmt.Fprintf(&b, ` -f "%s" -r -c`, l.FontsDir())
	padded := pipeline.PadEpisode(episode)
	for _, lang := range pipeline.HardsubLanguages {
		fmt.Fprintf(&b, ` && mv *.%s_jpn.rename.ass %s.%s_jpn.rename.ass`, lang, padded, lang)
	}
	return b.String()
}

// SubtitleCleanup removes the original subtitle files. With nothing to remove
// it is a no-op that succeeds.
func SubtitleCleanup(files []string) string {
	if len(files) == 0 {
		return "true"
	}
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = Quote(f)
	}
	return "rm " + strings.Join(quoted, " ")
}

// Merge muxes the encoded video with the FLAC track.
func Merge(l pipeline.Layout, episode string) string {
	return fmt.Sprintf(`mkvmerge -o "%s" --language 0:ja "%s" "%s"`,
		l.MergedPath(episode), l.VideoPath(episode), l.FlacPath(episode))
}

// Mux remuxes the merged file with both subtitle tracks and chapters, then
// attaches every subsetted font.
func Mux(l pipeline.Layout, episode, chapters string) string {
	dir := l.EpisodeDir(episode)
	temp := l.TempDir(episode)
	fonts := l.SubsettedFontsDir(episode)
	out := l.MuxedPath(episode)
	hevc := filepath.Join(temp, "video.hevc")
	flac := filepath.Join(temp, "audio.flac")

	parts := []string{
		fmt.Sprintf(`mkdir -p "%s"`, temp),
		fmt.Sprintf(`mkvextract "%s" tracks 0:"%s" 1:"%s"`, l.MergedPath(episode), hevc, flac),
		fmt.Sprintf(`mkvmerge -o "%s" `, out) +
			fmt.Sprintf(`--language 0:und "%s" `, hevc) +
			fmt.Sprintf(`--language 0:ja "%s" `, flac) +
			`--language 0:zh-cn --track-name 0:简日双语 ` +
			fmt.Sprintf(`--default-track 0:yes "$(ls "%s"/*.chs_jpn.rename.ass)" `, dir) +
			`--language 0:zh-tw --track-name 0:繁日双语 ` +
			fmt.Sprintf(`--default-track 0:no "$(ls "%s"/*.cht_jpn.rename.ass)" `, dir) +
			fmt.Sprintf(`--chapters "%s"`, chapters),
	}
	for _, ext := range []string{"ttf", "otf"} {
		parts = append(parts, fmt.Sprintf(
			`find "%s" -type f -name "*.%s" -exec mkvpropedit "%s" --attachment-mime-type font/%s --add-attachment "{}" \;`,
			fonts, ext, out, ext))
	}
	parts = append(parts, fmt.Sprintf(`rm -rf "%s"`, temp))
	return strings.Join(parts, " && ")
}

// HardsubMerge muxes a rendered hardsub stream with the AAC track and chapters.
func HardsubMerge(l pipeline.Layout, episode, lang, chapters string) string {
	return fmt.Sprintf(`mkvmerge -o "%s" --language 0:und "%s" --language 0:ja "%s" --chapters "%s"`,
		l.HardsubMergedPath(episode, lang), l.HardsubPath(episode, lang), l.AACPath(episode), chapters)
}

// Organize copies the three deliverables into result/.
func Organize(l pipeline.Layout, episode string) string {
	parts := []string{
		fmt.Sprintf(`mkdir -p "%s"`, l.ResultDir()),
		fmt.Sprintf(`cp "%s" "%s"`, l.MuxedPath(episode), l.ResultPath(episode, "complete")),
	}
	for _, lang := range pipeline.HardsubLanguages {
		parts = append(parts, fmt.Sprintf(`cp "%s" "%s"`, l.HardsubMergedPath(episode, lang), l.ResultPath(episode, lang)))
	}
	return strings.Join(parts, " && ")
}

// Cleanup deletes the episode's copy of the source video.
func Cleanup(source string) string {
	return fmt.Sprintf(`rm -f "%s"`, source)
}
