package project

import "fmt"

// HardsubScript renders the VapourSynth script that burns a subtitle track
// into the encoded video using the episode's subsetted fonts.
func HardsubScript(video, subtitle, fontsDir string) string {
	return fmt.Sprintf(`import vapoursynth as vs
from vapoursynth import core

file_path = r"%s"
sub_path = r"%s"
fonts_dir = r"%s"

clip = core.lsmas.LWLibavSource(file_path)

sub = core.assrender.TextSub(
    clip=clip,
    file=sub_path,
    fontdir=fonts_dir
)

sub.set_output(0)
`, video, subtitle, fontsDir)
}
