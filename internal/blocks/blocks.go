// Package blocks parses the structured protocol blocks embedded in generated
// text. Blocks are fenced by literal marker lines:
//
//	=== SUBMISSION ===
//	Key: value
//	=== END SUBMISSION ===
//
// plus two single-line forms (RETRIEVE and CONTINUITY CONFLICT) and an inline
// [PHASE_ADVANCE:<PHASE>] tag. Unknown block kinds are left untouched.
package blocks

import "strings"

type Kind string

const (
	KindProgressUpdate     Kind = "PROGRESS_UPDATE"
	KindSubmission         Kind = "SUBMISSION"
	KindEscalation         Kind = "ESCALATION"
	KindStandup            Kind = "STANDUP"
	KindRetrieve           Kind = "RETRIEVE"
	KindContinuityConflict Kind = "CONTINUITY_CONFLICT"
)

// fencedKinds maps the marker text of fenced blocks to their kind.
var fencedKinds = map[string]Kind{
	"PROGRESS UPDATE": KindProgressUpdate,
	"SUBMISSION":      KindSubmission,
	"ESCALATION":      KindEscalation,
	"STANDUP":         KindStandup,
}

// Field is one Key: value line inside a fenced block. Order is preserved and
// duplicate keys are allowed.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Block struct {
	Kind    Kind    `json:"kind"`
	Fields  []Field `json:"fields,omitempty"`
	Payload string  `json:"payload,omitempty"`
}

// Get returns the value of the first field with the given key.
func (b Block) Get(key string) string {
	for _, field := range b.Fields {
		if strings.EqualFold(field.Key, key) {
			return field.Value
		}
	}
	return ""
}

// Result is the outcome of parsing one text body.
type Result struct {
	Blocks       []Block `json:"blocks"`
	PhaseAdvance string  `json:"phaseAdvance,omitempty"`
	Display      string  `json:"display"`
}

const (
	markerPrefix    = "=== "
	markerSuffix    = " ==="
	endPrefix       = "END "
	retrievePrefix  = "RETRIEVE:"
	continuityLine  = "CONTINUITY CONFLICT"
	phaseAdvanceTag = "[PHASE_ADVANCE:"
)

// marker extracts the inner text of a marker line, or ok=false if the line is
// not a marker at all.
func marker(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, markerPrefix) || !strings.HasSuffix(trimmed, markerSuffix) {
		return "", false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, markerPrefix), markerSuffix)
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return "", false
	}
	return inner, true
}

// Parse walks the text line by line, collecting recognized blocks and building
// the display text with those blocks removed. Parsing never fails; malformed
// or unknown markers stay in the display text. A fenced block missing its END
// marker runs to the end of the text.
func Parse(text string) Result {
	lines := strings.Split(text, "\n")
	var result Result
	var display []string

	for i := 0; i < len(lines); i++ {
		inner, ok := marker(lines[i])
		if !ok {
			line, tag := extractPhaseTag(lines[i])
			if tag != "" {
				result.PhaseAdvance = tag
			}
			if strings.TrimSpace(line) != "" || strings.TrimSpace(lines[i]) == "" {
				display = append(display, line)
			}
			continue
		}

		if strings.HasPrefix(inner, retrievePrefix) {
			result.Blocks = append(result.Blocks, Block{
				Kind:    KindRetrieve,
				Payload: strings.TrimSpace(strings.TrimPrefix(inner, retrievePrefix)),
			})
			continue
		}
		if inner == continuityLine {
			result.Blocks = append(result.Blocks, Block{Kind: KindContinuityConflict})
			continue
		}

		kind, known := fencedKinds[inner]
		if !known {
			// Unknown marker, including a stray END: leave it in place.
			display = append(display, lines[i])
			continue
		}

		block := Block{Kind: kind}
		end := endPrefix + inner
		j := i + 1
		for ; j < len(lines); j++ {
			if innerEnd, isMarker := marker(lines[j]); isMarker && innerEnd == end {
				break
			}
			key, value, hasColon := strings.Cut(lines[j], ":")
			if hasColon && validKey(key) {
				block.Fields = append(block.Fields, Field{
					Key:   strings.TrimSpace(key),
					Value: strings.TrimSpace(value),
				})
				continue
			}
			// Continuation line: belongs to the previous field's value.
			if len(block.Fields) > 0 && strings.TrimSpace(lines[j]) != "" {
				last := &block.Fields[len(block.Fields)-1]
				last.Value = strings.TrimSpace(last.Value + "\n" + strings.TrimSpace(lines[j]))
			}
		}
		result.Blocks = append(result.Blocks, block)
		i = j
	}

	result.Display = strings.TrimSpace(strings.Join(display, "\n"))
	return result
}

// validKey reports whether a candidate key looks like a block field key rather
// than prose that happens to contain a colon.
func validKey(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > 40 {
		return false
	}
	for _, r := range key {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == ' ' {
			continue
		}
		return false
	}
	return true
}

// Strip returns the display text with all recognized blocks and tags removed.
func Strip(text string) string {
	return Parse(text).Display
}

func extractPhaseTag(line string) (string, string) {
	start := strings.Index(line, phaseAdvanceTag)
	if start < 0 {
		return line, ""
	}
	rest := line[start+len(phaseAdvanceTag):]
	end := strings.Index(rest, "]")
	if end < 0 {
		return line, ""
	}
	phase := strings.ToUpper(strings.TrimSpace(rest[:end]))
	cleaned := line[:start] + rest[end+1:]
	return cleaned, phase
}
