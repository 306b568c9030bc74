package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

type printer struct {
	w       io.Writer
	asJSON  bool
	diff    bool
	header  *color.Color
	path    *color.Color
	failed  *color.Color
	added   *color.Color
	removed *color.Color
}

func newPrinter(w io.Writer, colored, asJSON, diff bool) *printer {
	p := &printer{
		w:       w,
		asJSON:  asJSON,
		diff:    diff,
		header:  color.New(color.Bold),
		path:    color.New(color.FgCyan),
		failed:  color.New(color.FgRed, color.Bold),
		added:   color.New(color.FgGreen),
		removed: color.New(color.FgRed),
	}
	for _, c := range []*color.Color{p.header, p.path, p.failed, p.added, p.removed} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// useColor reports whether w is a terminal.
func useColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) scenario(name string, commits []Commit) {
	p.header.Fprintf(p.w, "== %s (%d commits)\n", name, len(commits))
	for i, c := range commits {
		p.commit(i+1, c)
	}
}

func (p *printer) commit(n int, c Commit) {
	status := ""
	if c.Err != nil {
		status = p.failed.Sprintf(" failed: %v", c.Err)
	}
	fmt.Fprintf(p.w, "commit %d%s\n", n, status)
	if p.asJSON {
		fmt.Fprintf(p.w, "  %s\n", c.Patch)
	} else {
		for _, e := range c.Entries {
			value, err := json.Marshal(e.Value)
			if err != nil {
				value = []byte(fmt.Sprintf("%v", e.Value))
			}
			fmt.Fprintf(p.w, "  %s = %s\n", p.path.Sprint(e.Path), value)
		}
	}
	if p.diff {
		p.stateDiff(c.Before, c.After)
	}
}

// stateDiff prints a line diff of the indented host state around a commit.
func (p *printer) stateDiff(before, after []byte) {
	dmp := diffpatch.New()
	from, to, lines := dmp.DiffLinesToChars(indent(before), indent(after))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(from, to, false), lines)
	for _, d := range diffs {
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			line = strings.TrimSuffix(line, "\n")
			switch d.Type {
			case diffpatch.DiffInsert:
				p.added.Fprintf(p.w, "  + %s\n", line)
			case diffpatch.DiffDelete:
				p.removed.Fprintf(p.w, "  - %s\n", line)
			default:
				fmt.Fprintf(p.w, "    %s\n", line)
			}
		}
	}
}

func indent(doc []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return string(doc) + "\n"
	}
	buf.WriteByte('\n')
	return buf.String()
}
