package pipeline

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestKindsCanonicalOrder(t *testing.T) {
	want := []Kind{
		KindSubtitleProcess,
		KindSubtitleCleanup,
		KindAudio,
		KindVideo,
		KindMerge,
		KindMux,
		"hardsub_chs",
		"hardsub_cht",
		"hardsub_chs_merge",
		"hardsub_cht_merge",
		KindOrganize,
		KindCleanup,
	}
	if got := Kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Kinds() = %v, want %v", got, want)
	}
}

func TestRankUnknownKindLast(t *testing.T) {
	if Rank("transcode_preview") != UnknownRank {
		t.Fatalf("expected unknown kind to rank %d", UnknownRank)
	}
	if !KindLess(KindCleanup, "transcode_preview") {
		t.Fatal("expected known kinds before unknown kinds")
	}
	if !KindLess("a_unknown", "b_unknown") {
		t.Fatal("expected unknown kinds ordered by name")
	}
}

func TestPrerequisites(t *testing.T) {
	tests := []struct {
		kind Kind
		want []Kind
	}{
		{KindSubtitleProcess, nil},
		{KindSubtitleCleanup, []Kind{KindSubtitleProcess}},
		{KindAudio, nil},
		{KindVideo, nil},
		{KindMerge, []Kind{KindAudio, KindVideo}},
		{KindMux, []Kind{KindMerge, KindSubtitleProcess}},
		{HardsubKind("chs"), []Kind{KindMerge}},
		{HardsubMergeKind("cht"), []Kind{HardsubKind("cht")}},
		{KindOrganize, []Kind{KindMux, "hardsub_chs_merge", "hardsub_cht_merge"}},
		{KindCleanup, []Kind{KindOrganize}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			d, ok := Describe(tt.kind)
			if !ok {
				t.Fatalf("no descriptor for %s", tt.kind)
			}
			if !reflect.DeepEqual(d.Prerequisites, tt.want) {
				t.Errorf("prerequisites = %v, want %v", d.Prerequisites, tt.want)
			}
		})
	}
}

func TestDeferredKinds(t *testing.T) {
	for _, kind := range Kinds() {
		d, _ := Describe(kind)
		want := kind == KindVideo || kind == "hardsub_chs" || kind == "hardsub_cht"
		if d.Deferred != want {
			t.Errorf("%s deferred = %v, want %v", kind, d.Deferred, want)
		}
	}
}

func TestEvidencePaths(t *testing.T) {
	l := Layout{Root: "/proj"}
	tests := []struct {
		kind Kind
		want []string
	}{
		{KindVideo, []string{"/proj/E01/video.mkv"}},
		{KindAudio, []string{"/proj/E01/output1.flac"}},
		{KindSubtitleProcess, []string{"/proj/E01/subsetted_fonts"}},
		{KindMerge, []string{"/proj/E01/final_output.mkv"}},
		{KindMux, []string{"/proj/E01/final_with_subs.mkv"}},
		{HardsubKind("chs"), []string{"/proj/E01/chs.mkv"}},
		{HardsubMergeKind("cht"), []string{"/proj/E01/final_cht.mkv"}},
		{KindOrganize, []string{
			"/proj/result/E01_complete.mkv",
			"/proj/result/E01_chs.mkv",
			"/proj/result/E01_cht.mkv",
		}},
	}

	for _, tt := range tests {
		d, _ := Describe(tt.kind)
		got := d.Evidence(l, "1")
		for i := range got {
			got[i] = filepath.ToSlash(got[i])
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s evidence = %v, want %v", tt.kind, got, tt.want)
		}
	}

	for _, kind := range []Kind{KindSubtitleCleanup, KindCleanup} {
		d, _ := Describe(kind)
		if d.Evidence != nil {
			t.Errorf("%s should have no completion evidence", kind)
		}
	}
}

func TestPadEpisode(t *testing.T) {
	tests := map[string]string{"1": "01", "01": "01", "12": "12", "123": "123"}
	for in, want := range tests {
		if got := PadEpisode(in); got != want {
			t.Errorf("PadEpisode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEpisodeLess(t *testing.T) {
	if !EpisodeLess("2", "10") {
		t.Error("expected numeric order 2 < 10")
	}
	if EpisodeLess("10", "02") {
		t.Error("expected 02 < 10")
	}
	if !EpisodeLess("9", "sp") {
		t.Error("expected numeric ids before non-numeric ids")
	}
}
