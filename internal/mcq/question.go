package mcq

import (
	"errors"
	"fmt"
	"strings"
)

// Letter identifies one of the four answer options.
type Letter string

const (
	A Letter = "A"
	B Letter = "B"
	C Letter = "C"
	D Letter = "D"
)

// Letters lists the option letters in slot order.
var Letters = [4]Letter{A, B, C, D}

// Index returns the zero-based option slot for l, or -1 if l is not A-D.
func (l Letter) Index() int {
	switch l {
	case A:
		return 0
	case B:
		return 1
	case C:
		return 2
	case D:
		return 3
	default:
		return -1
	}
}

func (l Letter) Valid() bool { return l.Index() >= 0 }

func (l Letter) String() string { return string(l) }

// ParseLetter accepts a single letter in either case.
func ParseLetter(s string) (Letter, error) {
	l := Letter(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("mcq: invalid option letter %q", s)
	}
	return l, nil
}

// Question is a parsed multiple-choice question. Options are ordered A, B, C, D.
type Question struct {
	Text    string    `json:"question"`
	Options [4]string `json:"options"`
}

// NewQuestion trims its inputs and enforces that the question and every
// option are non-empty.
func NewQuestion(text string, options [4]string) (Question, error) {
	q := Question{Text: strings.TrimSpace(text)}
	if q.Text == "" {
		return Question{}, errors.New("mcq: question text is empty")
	}
	for i, o := range options {
		o = strings.TrimSpace(o)
		if o == "" {
			return Question{}, fmt.Errorf("mcq: option %s is empty", Letters[i])
		}
		q.Options[i] = o
	}
	return q, nil
}

// Option returns the text of the option labelled l.
func (q Question) Option(l Letter) string {
	i := l.Index()
	if i < 0 {
		return ""
	}
	return q.Options[i]
}
