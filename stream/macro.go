package stream

import (
	"slices"
	"strings"
)

// MacroReplacer expands macro variables in a G-code line.
type MacroReplacer interface {
	ReplaceMacros(line string) string
}

// MacroVariables replaces "[name]" tokens with their values.
type MacroVariables map[string]string

var _ MacroReplacer = MacroVariables(nil)

// ReplaceMacros implements MacroReplacer. Unknown tokens are left untouched and
// substituted values are not expanded again.
func (m MacroVariables) ReplaceMacros(line string) string {
	if len(m) == 0 || !strings.Contains(line, "[") {
		return line
	}

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)

	pairs := make([]string, 0, 2*len(names))
	for _, name := range names {
		pairs = append(pairs, "["+name+"]", m[name])
	}

	return strings.NewReplacer(pairs...).Replace(line)
}

type noMacros struct{}

func (noMacros) ReplaceMacros(line string) string { return line }
