package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/justyntemme/waypoint/internal/app"
	"github.com/justyntemme/waypoint/internal/vfs"
)

// conflictPrompt asks on in about every conflict. An uppercase answer
// applies to all remaining conflicts.
type conflictPrompt struct {
	in  *bufio.Reader
	out io.Writer
}

func newConflictPrompt(in io.Reader, out io.Writer) *conflictPrompt {
	return &conflictPrompt{in: bufio.NewReader(in), out: out}
}

func (p *conflictPrompt) Ask(src, dst *vfs.FileData) (vfs.ConflictResolution, bool) {
	for {
		fmt.Fprintf(p.out, "\n%s already exists.\n", dst.Location)
		fmt.Fprintln(p.out, "  [o] overwrite  [s] skip  [k] keep both  [a] abort")
		fmt.Fprint(p.out, "Choice (uppercase applies to all): ")

		line, err := p.in.ReadString('\n')
		if err != nil && line == "" {
			return vfs.ConflictAbort, true
		}
		answer := strings.TrimSpace(line)
		if answer == "" {
			continue
		}
		all := strings.ToUpper(answer) == answer && strings.ToLower(answer) != answer
		switch strings.ToLower(answer) {
		case "o":
			return vfs.ConflictOverwrite, all
		case "s":
			return vfs.ConflictSkip, all
		case "k":
			return vfs.ConflictKeepBoth, all
		case "a":
			return vfs.ConflictAbort, true
		}
		fmt.Fprintln(p.out, "Invalid choice.")
	}
}

// conflictPolicy builds the policy named by the --on-conflict flag.
func conflictPolicy(name string, in io.Reader, out io.Writer) (*app.ConflictPolicy, error) {
	if strings.EqualFold(name, "ask") {
		return &app.ConflictPolicy{Ask: newConflictPrompt(in, out).Ask}, nil
	}
	res, err := app.ParseConflict(name)
	if err != nil {
		return nil, err
	}
	return app.Fixed(res), nil
}
