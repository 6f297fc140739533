package compose

import (
	"fmt"
	"strings"
)

// Document is a caret-level model of the compose editor. It mirrors the
// formatting the browser reports at the cursor and serves as the tracker's
// surface on the server side.
type Document struct {
	inline   map[Command]bool
	align    Command
	list     Command
	indent   int
	fontName string
	fontSize string
}

func NewDocument() *Document {
	return &Document{inline: map[Command]bool{}}
}

func (d *Document) Exec(command Command, value string) error {
	switch command {
	case Bold, Italic, Underline, StrikeThrough:
		d.inline[command] = !d.inline[command]
	case JustifyLeft, JustifyCenter, JustifyRight:
		d.align = command
	case InsertUnorderedList, InsertOrderedList:
		if d.list == command {
			d.list = ""
		} else {
			d.list = command
		}
	case Indent:
		d.indent++
	case Outdent:
		if d.indent > 0 {
			d.indent--
		}
	case FontName, FontSize:
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s requires a value", command)
		}
		if command == FontName {
			d.fontName = value
		} else {
			d.fontSize = value
		}
	default:
		return fmt.Errorf("unsupported editor command %q", command)
	}
	return nil
}

func (d *Document) QueryState(command Command) bool {
	switch command {
	case Bold, Italic, Underline, StrikeThrough:
		return d.inline[command]
	case JustifyLeft, JustifyCenter, JustifyRight:
		return d.align == command
	case InsertUnorderedList, InsertOrderedList:
		return d.list == command
	}
	return false
}

// Sync replaces the caret state with what the client's editor reports after
// a selection change.
func (d *Document) Sync(state State) {
	d.inline = map[Command]bool{}
	d.align = ""
	d.list = ""
	for _, command := range Tracked {
		if !state[command] {
			continue
		}
		switch command {
		case Bold, Italic, Underline, StrikeThrough:
			d.inline[command] = true
		case JustifyLeft, JustifyCenter, JustifyRight:
			d.align = command
		case InsertUnorderedList, InsertOrderedList:
			d.list = command
		}
	}
}

func (d *Document) IndentLevel() int {
	return d.indent
}
