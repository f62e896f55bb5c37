package pipeline

import "sort"

// Kind is the category of work a task performs within an episode.
type Kind string

const (
	KindSubtitleProcess Kind = "subtitle_process"
	KindSubtitleCleanup Kind = "subtitle_cleanup"
	KindAudio           Kind = "audio"
	KindVideo           Kind = "video"
	KindMerge           Kind = "merge"
	KindMux             Kind = "mux"
	KindOrganize        Kind = "organize"
	KindCleanup         Kind = "cleanup"
)

// HardsubLanguages are the subtitle languages rendered into hardsub variants.
var HardsubLanguages = []string{"chs", "cht"}

// UnknownRank sorts kinds missing from the descriptor table after every known kind.
const UnknownRank = 999

// HardsubKind returns hardsub_<lang>.
func HardsubKind(lang string) Kind { return Kind("hardsub_" + lang) }

// HardsubMergeKind returns hardsub_<lang>_merge.
func HardsubMergeKind(lang string) Kind { return Kind("hardsub_" + lang + "_merge") }

// Descriptor holds everything the engine needs to know about a kind.
type Descriptor struct {
	Kind          Kind
	Rank          int
	Prerequisites []Kind
	// Deferred kinds have their command synthesized at start time from
	// editable encode parameters.
	Deferred bool
	Hardsub  bool
	Lang     string
	// Evidence lists the paths that must all exist for the kind to count as
	// done. Nil means the kind never completes from filesystem evidence.
	Evidence func(l Layout, episode string) []string
}

var descriptors = buildDescriptors()

func buildDescriptors() map[Kind]Descriptor {
	table := map[Kind]Descriptor{
		KindSubtitleProcess: {
			Rank: 1,
			Evidence: func(l Layout, ep string) []string {
				return []string{l.SubsettedFontsDir(ep)}
			},
		},
		KindSubtitleCleanup: {
			Rank:          2,
			Prerequisites: []Kind{KindSubtitleProcess},
		},
		KindAudio: {
			Rank: 3,
			Evidence: func(l Layout, ep string) []string {
				return []string{l.FlacPath(ep)}
			},
		},
		KindVideo: {
			Rank:     4,
			Deferred: true,
			Evidence: func(l Layout, ep string) []string {
				return []string{l.VideoPath(ep)}
			},
		},
		KindMerge: {
			Rank:          5,
			Prerequisites: []Kind{KindAudio, KindVideo},
			Evidence: func(l Layout, ep string) []string {
				return []string{l.MergedPath(ep)}
			},
		},
		KindMux: {
			Rank:          6,
			Prerequisites: []Kind{KindMerge, KindSubtitleProcess},
			Evidence: func(l Layout, ep string) []string {
				return []string{l.MuxedPath(ep)}
			},
		},
		KindOrganize: {
			Rank: 11,
			Evidence: func(l Layout, ep string) []string {
				paths := []string{l.ResultPath(ep, "complete")}
				for _, lang := range HardsubLanguages {
					paths = append(paths, l.ResultPath(ep, lang))
				}
				return paths
			},
		},
		KindCleanup: {
			Rank:          12,
			Prerequisites: []Kind{KindOrganize},
		},
	}

	organize := table[KindOrganize]
	organize.Prerequisites = []Kind{KindMux}

	for i, lang := range HardsubLanguages {
		lang := lang
		table[HardsubKind(lang)] = Descriptor{
			Rank:          7 + i,
			Prerequisites: []Kind{KindMerge},
			Deferred:      true,
			Hardsub:       true,
			Lang:          lang,
			Evidence: func(l Layout, ep string) []string {
				return []string{l.HardsubPath(ep, lang)}
			},
		}
		table[HardsubMergeKind(lang)] = Descriptor{
			Rank:          7 + len(HardsubLanguages) + i,
			Prerequisites: []Kind{HardsubKind(lang)},
			Lang:          lang,
			Evidence: func(l Layout, ep string) []string {
				return []string{l.HardsubMergedPath(ep, lang)}
			},
		}
		organize.Prerequisites = append(organize.Prerequisites, HardsubMergeKind(lang))
	}
	table[KindOrganize] = organize

	for kind, d := range table {
		d.Kind = kind
		table[kind] = d
	}
	return table
}

// Describe returns the descriptor for kind.
func Describe(kind Kind) (Descriptor, bool) {
	d, ok := descriptors[kind]
	if !ok {
		return Descriptor{}, false
	}
	d.Prerequisites = append([]Kind(nil), d.Prerequisites...)
	return d, true
}

// Rank returns the canonical position of kind, UnknownRank when unknown.
func Rank(kind Kind) int {
	if d, ok := descriptors[kind]; ok {
		return d.Rank
	}
	return UnknownRank
}

// Kinds returns every known kind in canonical order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(descriptors))
	for kind := range descriptors {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return KindLess(kinds[i], kinds[j]) })
	return kinds
}

// KindLess orders kinds by rank, then by name.
func KindLess(a, b Kind) bool {
	ra, rb := Rank(a), Rank(b)
	if ra != rb {
		return ra < rb
	}
	return a < b
}

// CustomParams carries what a deferred kind needs to synthesize its command.
type CustomParams struct {
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path"`
	Hardsub    bool   `json:"hardsub"`
}
