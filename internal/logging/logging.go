// Package logging builds the root hclog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"
)

// Options selects the logger output.
type Options struct {
	Name   string
	Level  string // trace, debug, info, warn, error; unknown values mean info
	Format string // console or json
	Output io.Writer
}

// New creates the root logger. Console output is colored only when it goes
// to a terminal.
func New(opts Options) hclog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	jsonFormat := strings.EqualFold(opts.Format, "json")

	color := hclog.ColorOff
	if !jsonFormat && shouldColorize(out) {
		color = hclog.AutoColor
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       opts.Name,
		Level:      level,
		Output:     out,
		JSONFormat: jsonFormat,
		Color:      color,
		TimeFormat: "2006-01-02T15:04:05.000Z0700",
	})
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
