package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	merrors "github.com/Aman-CERP/mongomaint/internal/errors"
)

// Answer is one of the closed set of confirmation decisions.
type Answer int

const (
	// AnswerYes approves the whole proposed batch.
	AnswerYes Answer = iota
	// AnswerNo declines the proposed batch.
	AnswerNo
	// AnswerSpecify approves the batch but gates each item individually.
	AnswerSpecify
	// AnswerSkip skips the batch with zero side effects.
	AnswerSkip
)

// String returns the token name of an answer.
func (a Answer) String() string {
	switch a {
	case AnswerYes:
		return "yes"
	case AnswerNo:
		return "no"
	case AnswerSpecify:
		return "specify"
	case AnswerSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Confirmer is the confirmation collaborator consulted before destructive
// steps. Implementations return ErrAborted to end the run; the checkpoint
// survives an abort so a later run can resume.
type Confirmer interface {
	Confirm(prompt string) (Answer, error)
}

// TerminalConfirmer prompts on a terminal and reads one-letter answers.
type TerminalConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalConfirmer builds a confirmer reading from in (usually stdin)
// and prompting on out (usually stderr, so prompts survive stdout pipes).
func NewTerminalConfirmer(in io.Reader, out io.Writer) *TerminalConfirmer {
	return &TerminalConfirmer{in: bufio.NewReader(in), out: out}
}

// Confirm implements Confirmer. EOF and the abort tokens map to ErrAborted;
// unrecognized input re-prompts.
func (c *TerminalConfirmer) Confirm(prompt string) (Answer, error) {
	for {
		fmt.Fprintf(c.out, "%s [y]es / [n]o / [s]pecify / [k]ip / [a]bort: ", prompt)

		line, err := c.in.ReadString('\n')
		if err != nil && line == "" {
			// EOF with nothing typed: the operator is gone, stop safely.
			return AnswerNo, merrors.ErrAborted
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return AnswerYes, nil
		case "n", "no":
			return AnswerNo, nil
		case "s", "specify":
			return AnswerSpecify, nil
		case "k", "skip":
			return AnswerSkip, nil
		case "a", "q", "abort", "quit":
			return AnswerNo, merrors.ErrAborted
		}

		fmt.Fprintln(c.out, "please answer y, n, s, k, or a")
		if err != nil {
			return AnswerNo, merrors.ErrAborted
		}
	}
}

// AutoConfirmer answers every prompt with a fixed decision. Used for --yes
// runs and non-interactive environments.
type AutoConfirmer struct {
	Answer Answer
}

// Confirm implements Confirmer.
func (c AutoConfirmer) Confirm(string) (Answer, error) {
	return c.Answer, nil
}
