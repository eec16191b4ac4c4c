package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/types"
)

// box draws lines inside a rounded frame sized to the widest line.
func box(w io.Writer, lines []string) {
	width := 0
	for _, l := range lines {
		width = max(width, utf8.RuneCountInString(l))
	}
	bar := strings.Repeat("─", width+2)
	fmt.Fprintln(w, "╭"+bar+"╮")
	for _, l := range lines {
		pad := width - utf8.RuneCountInString(l)
		fmt.Fprintf(w, "│ %s%s │\n", l, strings.Repeat(" ", pad))
	}
	fmt.Fprintln(w, "╰"+bar+"╯")
}

// prompter reads answers to interactive questions.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// ask prints question and returns the trimmed answer, or def when the answer
// is empty or input has ended.
func (p *prompter) ask(question, def string) string {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", question)
	}
	line, _ := p.in.ReadString('\n') //nolint:errcheck // EOF leaves a partial or empty line
	if line = strings.TrimSpace(line); line == "" {
		return def
	}
	return line
}

// confirm asks a yes/no question.
func (p *prompter) confirm(question string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	answer := strings.ToLower(p.ask(question+" ("+hint+")", ""))
	switch answer {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return def
	}
}

// askInt asks for a number within [lo, hi], re-asking on bad input until
// input runs out.
func (p *prompter) askInt(question string, def, lo, hi int) int {
	for range 3 {
		answer := p.ask(question, strconv.Itoa(def))
		n, err := strconv.Atoi(answer)
		if err == nil && n >= lo && n <= hi {
			return n
		}
		fmt.Fprintf(p.out, "Please enter a number between %d and %d.\n", lo, hi)
	}
	return def
}

// askFloat asks for a non-negative number.
func (p *prompter) askFloat(question string, def float64) float64 {
	for range 3 {
		answer := p.ask(question, strconv.FormatFloat(def, 'g', -1, 64))
		f, err := strconv.ParseFloat(answer, 64)
		if err == nil && f >= 0 {
			return f
		}
		fmt.Fprintln(p.out, "Please enter a non-negative number.")
	}
	return def
}

// daysAgo renders a Days value the way people say it.
func daysAgo(d types.Days) string {
	n, ok := d.Value()
	switch {
	case !ok:
		return "never"
	case n == 0:
		return "today"
	case n == 1:
		return "yesterday"
	default:
		return strconv.Itoa(n) + " days ago"
	}
}

// relative renders t relative to now for PR listings.
func relative(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := now.Sub(t)
	switch {
	case d < time.Hour:
		return "just now"
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return daysAgo(types.DaysBetween(t, now))
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return strconv.Itoa(n) + " " + many
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
