package resolver

import (
	"strings"

	"mcq-autopilot/internal/mcq"
)

const promptPreamble = "Answer with only one letter (A, B, C, or D): "

// BuildPrompt renders q deterministically: the instruction and question on
// the first line, then one "X) option" line per letter.
func BuildPrompt(q mcq.Question) string {
	var sb strings.Builder
	sb.WriteString(promptPreamble)
	sb.WriteString(q.Text)
	sb.WriteByte('\n')
	for i, opt := range q.Options {
		sb.WriteString(mcq.Letters[i].String())
		sb.WriteString(") ")
		sb.WriteString(opt)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ExtractLetter upper-cases resp and returns its first A-D character, so a
// bare "b" answers B.
func ExtractLetter(resp string) (mcq.Letter, bool) {
	i := strings.IndexAny(resp, "ABCDabcd")
	if i < 0 {
		return "", false
	}
	return mcq.Letter(strings.ToUpper(resp[i : i+1])), true
}

func hasLetter(resp string) bool {
	return strings.ContainsAny(resp, "ABCDabcd")
}
