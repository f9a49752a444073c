package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// LinePrompter asks on w and reads one line from r.
//
// A single goroutine owns r for the prompter's lifetime; it starts on the
// first Prompt. A line that arrives after a cancelled Prompt answers the
// next one.
type LinePrompter struct {
	r     *bufio.Reader
	w     io.Writer
	once  sync.Once
	lines chan promptResult
}

func NewLinePrompter(r io.Reader, w io.Writer) *LinePrompter {
	return &LinePrompter{r: bufio.NewReader(r), w: w, lines: make(chan promptResult)}
}

type promptResult struct {
	line string
	err  error
}

func (p *LinePrompter) readLines() {
	defer close(p.lines)
	for {
		line, err := p.r.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		p.lines <- promptResult{line: strings.TrimSpace(line), err: err}
		if err != nil {
			return
		}
	}
}

// Prompt returns the trimmed answer. A final line without a newline is
// accepted; cancelling ctx returns early without losing the pending read.
func (p *LinePrompter) Prompt(ctx context.Context, question string) (string, error) {
	fmt.Fprint(p.w, question)
	p.once.Do(func() { go p.readLines() })

	select {
	case r, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
