package polls

import "strings"

const (
	male   = "♂️"
	female = "♀️"
)

// ParseCharacters splits "♂️Name ♀️Other Name ..." into display labels such as "♂️ Name".
// A symbol applies to the text that follows it; text without a symbol is kept as is.
func ParseCharacters(raw string) []string {
	var (
		out     []string
		pending string
	)
	flush := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if pending != "" {
			text = pending + " " + text
		}
		out = append(out, text)
		pending = ""
	}

	rest := strings.TrimSpace(raw)
	for rest != "" {
		sym, i := nextSymbol(rest)
		if i < 0 {
			flush(rest)
			break
		}
		flush(rest[:i])
		pending = sym
		rest = rest[i+len(sym):]
	}
	return out
}

func nextSymbol(s string) (string, int) {
	m, f := strings.Index(s, male), strings.Index(s, female)
	switch {
	case m < 0 && f < 0:
		return "", -1
	case f < 0 || (m >= 0 && m < f):
		return male, m
	default:
		return female, f
	}
}
