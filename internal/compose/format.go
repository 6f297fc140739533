package compose

import (
	"fmt"
	"slices"
)

// Command names match the browser editing commands the web client executes.
type Command string

const (
	Bold                Command = "bold"
	Italic              Command = "italic"
	Underline           Command = "underline"
	StrikeThrough       Command = "strikeThrough"
	JustifyLeft         Command = "justifyLeft"
	JustifyCenter       Command = "justifyCenter"
	JustifyRight        Command = "justifyRight"
	InsertUnorderedList Command = "insertUnorderedList"
	InsertOrderedList   Command = "insertOrderedList"
	Indent              Command = "indent"
	Outdent             Command = "outdent"
	FontName            Command = "fontName"
	FontSize            Command = "fontSize"
)

// Tracked are the boolean commands reported in a State.
var Tracked = []Command{
	Bold,
	Italic,
	Underline,
	StrikeThrough,
	JustifyLeft,
	JustifyCenter,
	JustifyRight,
	InsertUnorderedList,
	InsertOrderedList,
}

type State map[Command]bool

// Surface is the live editing surface whose formatting the tracker projects.
type Surface interface {
	Exec(command Command, value string) error
	QueryState(command Command) bool
}

type Choice struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

var FontSizes = []Choice{
	{Name: "Small", Value: "2"},
	{Name: "Normal", Value: "3"},
	{Name: "Large", Value: "5"},
	{Name: "Huge", Value: "7"},
}

var Fonts = []Choice{
	{Name: "Normal", Value: "Inter"},
	{Name: "Serif", Value: "Playfair Display"},
	{Name: "Mono", Value: "Roboto Mono"},
	{Name: "Cursive", Value: "Dancing Script"},
	{Name: "Modern", Value: "Montserrat"},
	{Name: "Elegant", Value: "Great Vibes"},
	{Name: "Typewriter", Value: "Courier Prime"},
	{Name: "Geometric", Value: "Poppins"},
}

type Picker string

const (
	PickerNone Picker = ""
	PickerFont Picker = "font"
	PickerSize Picker = "size"
)

// Tracker reports which formatting commands are active on its surface. The
// state is always re-read from the surface, never patched.
type Tracker struct {
	surface Surface
	state   State
	font    Choice
	size    Choice
	picker  Picker
}

func NewTracker(surface Surface) *Tracker {
	t := &Tracker{
		surface: surface,
		font:    Fonts[0],
		size:    FontSizes[1],
	}
	t.Refresh()
	return t
}

// Apply runs a formatting command. Underline and strikethrough exclude each
// other: turning one on while the other is active first toggles the other off.
func (t *Tracker) Apply(command Command, value string) (State, error) {
	if !slices.Contains(Tracked, command) && command != Indent && command != Outdent {
		return t.State(), fmt.Errorf("unsupported format command %q", command)
	}
	switch {
	case command == Underline && t.state[StrikeThrough]:
		if err := t.surface.Exec(StrikeThrough, value); err != nil {
			return t.State(), err
		}
	case command == StrikeThrough && t.state[Underline]:
		if err := t.surface.Exec(Underline, value); err != nil {
			return t.State(), err
		}
	}
	if err := t.surface.Exec(command, value); err != nil {
		return t.State(), err
	}
	return t.Refresh(), nil
}

// Refresh recomputes the whole state from the surface.
func (t *Tracker) Refresh() State {
	state := make(State, len(Tracked))
	for _, command := range Tracked {
		state[command] = t.surface.QueryState(command)
	}
	t.state = state
	return t.State()
}

func (t *Tracker) State() State {
	state := make(State, len(t.state))
	for command, active := range t.state {
		state[command] = active
	}
	return state
}

// Tab indents and Shift+Tab outdents instead of moving focus.
func (t *Tracker) Tab(shift bool) (State, error) {
	command := Indent
	if shift {
		command = Outdent
	}
	return t.Apply(command, "")
}

func (t *Tracker) OpenPicker(picker Picker) {
	t.picker = picker
}

func (t *Tracker) Picker() Picker {
	return t.picker
}

func (t *Tracker) SelectFont(name string) error {
	choice, ok := findChoice(Fonts, name)
	if !ok {
		return fmt.Errorf("unknown font %q", name)
	}
	if err := t.surface.Exec(FontName, choice.Value); err != nil {
		return err
	}
	t.font = choice
	t.picker = PickerNone
	t.Refresh()
	return nil
}

func (t *Tracker) SelectSize(name string) error {
	choice, ok := findChoice(FontSizes, name)
	if !ok {
		return fmt.Errorf("unknown font size %q", name)
	}
	if err := t.surface.Exec(FontSize, choice.Value); err != nil {
		return err
	}
	t.size = choice
	t.picker = PickerNone
	t.Refresh()
	return nil
}

func (t *Tracker) Font() Choice {
	return t.font
}

func (t *Tracker) Size() Choice {
	return t.size
}

func findChoice(choices []Choice, name string) (Choice, bool) {
	for _, choice := range choices {
		if choice.Name == name {
			return choice, true
		}
	}
	return Choice{}, false
}
