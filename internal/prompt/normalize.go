package prompt

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Private-use runes standing in for erase sequences, which ansi.Strip would
// otherwise drop before the overwrite pass can act on them.
const (
	eraseToEOL  = '\uE000'
	eraseLine   = '\uE001'
	eraseMarker = "\uE000"
	clearMarker = "\uE001"
)

var eraseReplacer = strings.NewReplacer(
	"\x1b[K", eraseMarker,
	"\x1b[0K", eraseMarker,
	"\x1b[2K", clearMarker,
)

// Normalize converts raw terminal output to its final visual text: escape
// sequences are removed, "\r" and backspace overwrites are applied per line,
// and line endings become "\n".
func Normalize(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	s := ansi.Strip(eraseReplacer.Replace(string(raw)))

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = overwriteLine(line)
	}
	return strings.Join(lines, "\n")
}

// overwriteLine replays one line of terminal output onto a cell buffer.
func overwriteLine(line string) string {
	if !strings.ContainsAny(line, "\r\b\a"+eraseMarker+clearMarker) {
		return line
	}
	cells := make([]rune, 0, len(line))
	cursor := 0
	for _, r := range line {
		switch r {
		case '\r':
			cursor = 0
		case '\b':
			if cursor > 0 {
				cursor--
			}
		case eraseToEOL:
			if cursor < len(cells) {
				cells = cells[:cursor]
			}
		case eraseLine:
			cells = cells[:0]
			cursor = 0
		case '\a':
		default:
			if cursor < len(cells) {
				cells[cursor] = r
			} else {
				cells = append(cells, r)
			}
			cursor++
		}
	}
	return string(cells)
}
