package tui

// Keybinding constants
const (
	KeyTab         = "tab"
	KeyShiftTab    = "shift+tab"
	KeyQuit        = "q"
	KeyCtrlC       = "ctrl+c"
	KeyPane1       = "1"
	KeyPane2       = "2"
	KeyUp          = "up"
	KeyDown        = "down"
	KeyJ           = "j"
	KeyK           = "k"
	KeyStart       = "enter"
	KeyPause       = "p"
	KeyStop        = "x"
	KeyRunAll      = "r"
	KeyRunPar      = "R"
	KeyStopAll     = "X"
	KeyParams      = "e"
	KeyGlobal      = "g"
	KeyEsc         = "esc"
	KeyTop         = "home"
	KeyBottom      = "end"
	KeyNextEpisode = "]"
	KeyPrevEpisode = "["
)

// HelpView returns a one-line help bar with common keybindings.
func HelpView() string {
	return StyleHelp.Render("enter: start | p: pause/resume | x: stop | r/R: run all (serial/parallel) | X: stop all | e/g: episode/global params | [ ]: episode | tab: focus | q: quit")
}
