package shell

import (
	"strconv"
	"strings"
)

// Mode selects the rendering of the dm command.
type Mode int

const (
	// ModeBasic prints one line per component.
	ModeBasic Mode = iota
	// ModeFull prints interfaces and dependencies of every component.
	ModeFull
	// ModePlantUML prints a PlantUML class diagram.
	ModePlantUML
	// ModeWTF prints only the components that are not active.
	ModeWTF
)

// Options controls what the dm command prints.
type Options struct {
	Mode      Mode
	BundleIDs []int64
	Colors    bool
}

// ParseArgs interprets dm command arguments: "wtf", anything starting
// with "f" (full), anything starting with "u" (PlantUML) and numeric
// bundle ids. Unrecognised arguments are returned so the caller can
// report them.
func ParseArgs(args []string) (Options, []string) {
	var opts Options
	var full, uml, wtf bool
	var skipped []string

	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "wtf"):
			wtf = true
		case strings.HasPrefix(arg, "f"):
			full = true
		case strings.HasPrefix(arg, "u"):
			uml = true
		case arg != "" && arg[0] >= '0' && arg[0] <= '9':
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				skipped = append(skipped, arg)
				continue
			}
			opts.BundleIDs = append(opts.BundleIDs, id)
		default:
			skipped = append(skipped, arg)
		}
	}

	switch {
	case wtf:
		opts.Mode = ModeWTF
	case uml:
		opts.Mode = ModePlantUML
	case full:
		opts.Mode = ModeFull
	}
	return opts, skipped
}
