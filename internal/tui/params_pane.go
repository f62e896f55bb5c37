package tui

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/bdencode/internal/params"
)

// x265Presets are the values x265 accepts for --preset.
var x265Presets = []string{
	"ultrafast", "superfast", "veryfast", "faster", "fast",
	"medium", "slow", "slower", "veryslow", "placebo",
}

const (
	actionSave  = "save"
	actionReset = "reset"
)

// ParamsPaneModel edits the encode parameters of one episode, or the
// global sets when no episode is given.
type ParamsPaneModel struct {
	form    *huh.Form
	store   *params.Store
	episode string
	width   int
	height  int
	visible bool
	notice  string
	err     error

	hadOverride bool

	// Form bindings live on the heap: the model is copied on every update
	// while the form keeps writing through the pointers it was built with.
	fields *paramFields
}

type paramFields struct {
	action        string
	normalCRF     string
	normalTune    string
	normalPreset  string
	hardsubCRF    string
	hardsubTune   string
	hardsubPreset string
}

// NewParamsPaneModel creates a hidden parameter pane over store.
func NewParamsPaneModel(store *params.Store) ParamsPaneModel {
	return ParamsPaneModel{store: store}
}

// Open shows the form for episode ("" edits the global sets).
func (m *ParamsPaneModel) Open(episode string) tea.Cmd {
	m.episode = episode
	m.visible = true
	m.notice = ""
	m.err = nil
	m.load()
	m.buildForm()
	if m.width > 0 {
		m.form.WithWidth(m.width - 8).WithHeight(m.height - 8)
	}
	return m.form.Init()
}

func (m *ParamsPaneModel) load() {
	pair := m.store.Global()
	m.hadOverride = false
	if m.episode != "" {
		if ep, ok := m.store.Episode(m.episode); ok {
			pair = ep
			m.hadOverride = true
		}
	}
	m.fields = &paramFields{
		action:        actionSave,
		normalCRF:     string(pair.Normal.CRF),
		normalTune:    pair.Normal.Tune,
		normalPreset:  pair.Normal.Preset,
		hardsubCRF:    string(pair.Hardsub.CRF),
		hardsubTune:   pair.Hardsub.Tune,
		hardsubPreset: pair.Hardsub.Preset,
	}
}

func validateCRF(s string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("crf must be a number")
	}
	if v < 0 || v > 51 {
		return fmt.Errorf("crf must be between 0 and 51")
	}
	return nil
}

func validatePreset(s string) error {
	if !slices.Contains(x265Presets, strings.TrimSpace(s)) {
		return fmt.Errorf("unknown preset, one of %s", strings.Join(x265Presets, ", "))
	}
	return nil
}

func validateTune(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("tune is required")
	}
	return nil
}

func (m *ParamsPaneModel) buildForm() {
	resetLabel := "Reset global sets to the built-in defaults"
	if m.episode != "" {
		resetLabel = "Drop the episode override"
	}

	f := m.fields
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("action").
				Title("Action").
				Options(
					huh.NewOption("Save", actionSave),
					huh.NewOption(resetLabel, actionReset),
				).
				Value(&f.action),
		).Title(m.title()),

		huh.NewGroup(
			huh.NewInput().Key("normalCRF").Title("CRF").Value(&f.normalCRF).Validate(validateCRF),
			huh.NewInput().Key("normalTune").Title("Tune").Value(&f.normalTune).Validate(validateTune),
			huh.NewInput().Key("normalPreset").Title("Preset").Value(&f.normalPreset).Validate(validatePreset),
		).Title("Normal encode"),

		huh.NewGroup(
			huh.NewInput().Key("hardsubCRF").Title("CRF").Value(&f.hardsubCRF).Validate(validateCRF),
			huh.NewInput().Key("hardsubTune").Title("Tune").Value(&f.hardsubTune).Validate(validateTune),
			huh.NewInput().Key("hardsubPreset").Title("Preset").Value(&f.hardsubPreset).Validate(validatePreset),
		).Title("Hardsub encode"),
	)
}

func (m ParamsPaneModel) title() string {
	if m.episode == "" {
		return "Global parameters"
	}
	if m.hadOverride {
		return fmt.Sprintf("Episode %s (override)", m.episode)
	}
	return fmt.Sprintf("Episode %s (inherits global)", m.episode)
}

// Pair returns the sets currently entered in the form.
func (m ParamsPaneModel) Pair() params.Pair {
	f := m.fields
	return params.Pair{
		Normal: params.EncodeParams{
			CRF:    params.CRF(strings.TrimSpace(f.normalCRF)),
			Tune:   strings.TrimSpace(f.normalTune),
			Preset: strings.TrimSpace(f.normalPreset),
		},
		Hardsub: params.EncodeParams{
			CRF:    params.CRF(strings.TrimSpace(f.hardsubCRF)),
			Tune:   strings.TrimSpace(f.hardsubTune),
			Preset: strings.TrimSpace(f.hardsubPreset),
		},
	}
}

// apply writes the form to the store and returns a notice for the status bar.
func (m *ParamsPaneModel) apply() (string, error) {
	if m.fields.action == actionReset {
		if m.episode == "" {
			if err := m.store.ResetGlobal(false); err != nil {
				return "", err
			}
			if err := m.store.ResetGlobal(true); err != nil {
				return "", err
			}
			return "global parameters reset to defaults", nil
		}
		if err := m.store.ResetEpisode(m.episode); err != nil {
			return "", err
		}
		return fmt.Sprintf("episode %s now inherits the global parameters", m.episode), nil
	}

	pair := m.Pair()
	if m.episode == "" {
		if err := m.store.SetGlobal(false, pair.Normal); err != nil {
			return "", err
		}
		if err := m.store.SetGlobal(true, pair.Hardsub); err != nil {
			return "", err
		}
		return "global parameters saved", nil
	}
	stored, err := m.store.SetEpisode(m.episode, pair)
	if err != nil {
		return "", err
	}
	if !stored {
		return fmt.Sprintf("episode %s matches the global parameters, no override kept", m.episode), nil
	}
	return fmt.Sprintf("episode %s override saved", m.episode), nil
}

// Update handles messages for the parameter pane.
func (m ParamsPaneModel) Update(msg tea.Msg) (ParamsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == KeyEsc {
		m.visible = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.notice, m.err = m.apply()
		if m.err == nil {
			m.visible = false
		}
	case huh.StateAborted:
		m.visible = false
	}

	return m, cmd
}

// View renders the parameter pane.
func (m ParamsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	content := m.form.View()
	if m.err != nil {
		content = StyleError.Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(max(10, m.width-4)).
		Height(max(5, m.height-4))

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Encode parameters")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the pane.
func (m *ParamsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// IsVisible returns whether the pane is showing.
func (m ParamsPaneModel) IsVisible() bool {
	return m.visible
}

// Notice returns the outcome of the last save, if any.
func (m ParamsPaneModel) Notice() string {
	return m.notice
}

// Err returns the error of the last save, if any.
func (m ParamsPaneModel) Err() error {
	return m.err
}
