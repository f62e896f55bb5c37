package completion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/bdencode/internal/pipeline"
)

type subject struct {
	episode string
	kind    pipeline.Kind
	stopped bool
}

func (s subject) Episode() string     { return s.episode }
func (s subject) Kind() pipeline.Kind { return s.kind }
func (s subject) Stopped() bool       { return s.stopped }

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestIsCompletedPerKind(t *testing.T) {
	for _, kind := range pipeline.Kinds() {
		kind := kind
		t.Run(string(kind), func(t *testing.T) {
			root := t.TempDir()
			layout := pipeline.Layout{Root: root}
			o := New(layout, nil)
			s := subject{episode: "1", kind: kind}

			if o.IsCompleted(s) {
				t.Fatal("expected incomplete on an empty tree")
			}

			d, _ := pipeline.Describe(kind)
			if d.Evidence == nil {
				if err := os.MkdirAll(layout.EpisodeDir("1"), 0o755); err != nil {
					t.Fatal(err)
				}
				if o.IsCompleted(s) {
					t.Fatal("kinds without evidence never complete")
				}
				return
			}

			paths := d.Evidence(layout, "1")
			for i, p := range paths {
				if kind == pipeline.KindSubtitleProcess {
					if err := os.MkdirAll(p, 0o755); err != nil {
						t.Fatal(err)
					}
				} else {
					touch(t, p)
				}
				complete := o.IsCompleted(s)
				if last := i == len(paths)-1; complete != last {
					t.Fatalf("after %d/%d evidence files: completed=%v", i+1, len(paths), complete)
				}
			}

			s.stopped = true
			if o.IsCompleted(s) {
				t.Fatal("a stopped task is never complete")
			}
		})
	}
}

func TestIsCompletedUnknownKind(t *testing.T) {
	o := New(pipeline.Layout{Root: t.TempDir()}, nil)
	if o.IsCompleted(subject{episode: "01", kind: "preview"}) {
		t.Fatal("unknown kinds never complete")
	}
}

func TestIsCompletedIOErrorIsFalse(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	root := t.TempDir()
	layout := pipeline.Layout{Root: root}
	touch(t, layout.VideoPath("01"))

	dir := layout.EpisodeDir("01")
	if err := os.Chmod(dir, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	o := New(layout, nil)
	if o.IsCompleted(subject{episode: "01", kind: pipeline.KindVideo}) {
		t.Fatal("unreadable evidence must count as incomplete")
	}
}

func TestAudioEvidenceUsesRawEpisodeID(t *testing.T) {
	root := t.TempDir()
	layout := pipeline.Layout{Root: root}
	o := New(layout, nil)

	touch(t, filepath.Join(root, "E07", "output07.flac"))
	if o.IsCompleted(subject{episode: "7", kind: pipeline.KindAudio}) {
		t.Fatal("episode 7 expects output7.flac, not output07.flac")
	}
	touch(t, filepath.Join(root, "E07", "output7.flac"))
	if !o.IsCompleted(subject{episode: "7", kind: pipeline.KindAudio}) {
		t.Fatal("expected audio complete")
	}
}
