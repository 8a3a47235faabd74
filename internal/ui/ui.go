// Package ui writes colored, human-oriented CLI output.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/muesli/termenv"
)

type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

const (
	colorError   = "1"
	colorSuccess = "2"
	colorWarn    = "3"
	colorInfo    = "4"
	colorMuted   = "8"
	LinkColor    = "#87CEEB"
)

type UI struct {
	Out          io.Writer
	Err          io.Writer
	Output       *termenv.Output
	ErrOutput    *termenv.Output
	ColorEnabled bool
}

func New(out io.Writer, err io.Writer, mode ColorMode, disableColor bool) *UI {
	output := termenv.NewOutput(out)
	return &UI{
		Out:          out,
		Err:          err,
		Output:       output,
		ErrOutput:    termenv.NewOutput(err),
		ColorEnabled: shouldEnableColor(output, mode, disableColor),
	}
}

func shouldEnableColor(output *termenv.Output, mode ColorMode, disableColor bool) bool {
	if disableColor {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	default:
		return output.ColorProfile() != termenv.Ascii
	}
}

func (u *UI) paint(out *termenv.Output, color, msg string) string {
	if !u.ColorEnabled {
		return msg
	}
	return out.String(msg).Foreground(out.Color(color)).String()
}

func line(format string, args ...any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

func (u *UI) Errorf(format string, args ...any) {
	fmt.Fprintln(u.Err, u.paint(u.ErrOutput, colorError, line(format, args...)))
}

func (u *UI) Warnf(format string, args ...any) {
	fmt.Fprintln(u.Err, u.paint(u.ErrOutput, colorWarn, line(format, args...)))
}

func (u *UI) Infof(format string, args ...any) {
	fmt.Fprintln(u.Out, u.paint(u.Output, colorInfo, line(format, args...)))
}

func (u *UI) Successf(format string, args ...any) {
	fmt.Fprintln(u.Out, u.paint(u.Output, colorSuccess, line(format, args...)))
}

// Muted dims secondary text such as timestamps.
func (u *UI) Muted(text string) string {
	return u.paint(u.Output, colorMuted, text)
}

func (u *UI) LinkText(text string) string {
	return u.paint(u.Output, LinkColor, text)
}

// Fields prints aligned "label  value" pairs.
func (u *UI) Fields(pairs ...string) {
	tw := tabwriter.NewWriter(u.Out, 0, 2, 2, ' ', 0)
	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Fprintf(tw, "%s\t%s\n", pairs[i], pairs[i+1])
	}
	_ = tw.Flush()
}

// Table prints a header row and rows separated by tabs, aligned.
func (u *UI) Table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(u.Out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	_ = tw.Flush()
}

func NormalizeColorMode(value string) ColorMode {
	switch ColorMode(strings.ToLower(strings.TrimSpace(value))) {
	case ColorAlways:
		return ColorAlways
	case ColorNever:
		return ColorNever
	default:
		return ColorAuto
	}
}
