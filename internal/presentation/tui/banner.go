package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text, color string
}{
	{"   ___                    ", "#f59e0b"},
	{"  | __|___  _ _  __ _  ___", "#f97316"},
	{"  | _|/ _ \\| '_|/ _` |/ -_)", "#ef4444"},
	{"  |_| \\___/|_|  \\__, |\\___|", "#e11d48"},
	{"                |___/      ", "#be123c"},
}

// PrintBanner writes the forge banner in the terminal's color profile.
func PrintBanner(w io.Writer) {
	out := termenv.NewOutput(w)
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w)
}
