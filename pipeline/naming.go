package pipeline

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxNameRunes = 120

// baseName turns a naming field value into a safe archive entry stem.
// Path separators, reserved characters and control characters become "_";
// surrounding spaces and dots are dropped. An empty result falls back to
// "row-<N>".
func baseName(value string, row int) string {
	var sb strings.Builder
	n := 0
	for _, r := range value {
		if n == maxNameRunes {
			break
		}
		switch {
		case r == utf8.RuneError, unicode.IsControl(r), strings.ContainsRune(`/\:*?"<>|`, r):
			sb.WriteByte('_')
		default:
			sb.WriteRune(r)
		}
		n++
	}
	name := strings.Trim(sb.String(), " .")
	if name == "" {
		return "row-" + strconv.Itoa(row)
	}
	return name
}

// namer assigns artifact names in row order.
type namer struct {
	policy Collision
	ext    string
	used   map[string]int // name → row that holds it
}

func newNamer(policy Collision, ext string) *namer {
	return &namer{policy: policy, ext: ext, used: make(map[string]int)}
}

// name returns the entry name for row and, under CollisionOverwrite, the
// earlier row whose artifact it replaces (0 when none).
func (n *namer) name(value string, row int) (string, int) {
	name := baseName(value, row) + n.ext
	prev, taken := n.used[name]
	if !taken {
		n.used[name] = row
		return name, 0
	}
	if n.policy == CollisionOverwrite {
		n.used[name] = row
		return name, prev
	}
	stem := strings.TrimSuffix(name, n.ext)
	for i := 0; ; i++ {
		candidate := stem + "_row" + strconv.Itoa(row)
		if i > 0 {
			candidate += "_" + strconv.Itoa(i)
		}
		candidate += n.ext
		if _, taken := n.used[candidate]; !taken {
			n.used[candidate] = row
			return candidate, 0
		}
	}
}
