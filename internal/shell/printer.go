package shell

import (
	"fmt"
	"io"

	"github.com/moolen/depman/internal/dm"
)

// Inventory is the read-only view of the runtime the printer walks.
type Inventory interface {
	ComponentInfos(bundleIDs ...int64) []dm.ComponentInfo
	BundleName(id int64) string
}

// Printer renders component diagnostics.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Print renders the components of inv according to opts.
func (p *Printer) Print(inv Inventory, opts Options) error {
	colors := newPalette(opts.Colors)
	infos := inv.ComponentInfos(opts.BundleIDs...)

	w := &errWriter{w: p.out}
	switch opts.Mode {
	case ModeWTF:
		printInactive(w, colors, inv, infos)
	case ModePlantUML:
		printPlantUML(w, infos)
	default:
		for _, group := range groupByBundle(infos) {
			for _, info := range group {
				if opts.Mode == ModeFull {
					printFull(w, colors, inv.BundleName(info.BundleID), info)
				} else {
					printBasic(w, colors, inv.BundleName(info.BundleID), info)
				}
			}
			w.printf("\n")
		}
	}
	return w.err
}

func printBasic(w *errWriter, colors palette, bundle string, info dm.ComponentInfo) {
	active := info.Available()
	w.printf("Component: Name=%s, ID=%s, %s, State=%s, Bundle=%d (%s)\n",
		info.Name, info.ID, colors.component(active, "Active="+boolField(active)),
		info.State, info.BundleID, bundle)
}

func printFull(w *errWriter, colors palette, bundle string, info dm.ComponentInfo) {
	active := info.Available()
	w.printf("%s\n", colors.component(active, "Component: Name="+info.Name))
	w.printf("|- UUID   = %s\n", info.ID)
	w.printf("|- Active = %t\n", active)
	w.printf("|- State  = %s\n", info.State)
	w.printf("|- Bundle = %d (%s)\n", info.BundleID, bundle)
	w.printf("|- Nr of times started = %d\n", info.NrOfTimesStarted)

	w.printf("|- Interfaces (%d):\n", len(info.Interfaces))
	for i, iface := range info.Interfaces {
		w.printf("   |- %s\n", colors.component(active, fmt.Sprintf("Interface %d: %s", i+1, iface.Name)))
		for _, key := range iface.Properties.Keys() {
			w.printf("      | %15s = %s\n", key, iface.Properties[key])
		}
	}

	w.printf("|- Dependencies (%d):\n", len(info.Dependencies))
	for i, dep := range info.Dependencies {
		name := dep.ServiceName
		if name == "" {
			name = "(any)"
		}
		w.printf("   |- %s\n", colors.dependency(dep.Available, dep.Required, fmt.Sprintf("Dependency %d: %s", i+1, name)))
		w.printf("      | %15s = %s\n", "Available", boolField(dep.Available))
		w.printf("      | %15s = %s\n", "Required", boolField(dep.Required))
		w.printf("      | %15s = %s\n", "Strategy", dep.Strategy)
		w.printf("      | %15s = %s\n", "Version Range", orNA(dep.VersionRange))
		w.printf("      | %15s = %s\n", "Filter", orNA(dep.Filter))
	}
	w.printf("\n")
}

func printInactive(w *errWriter, colors palette, inv Inventory, infos []dm.ComponentInfo) {
	inactive := 0
	for _, info := range infos {
		if info.Available() {
			continue
		}
		inactive++
		printFull(w, colors, inv.BundleName(info.BundleID), info)
	}
	if inactive == 0 {
		w.printf("No problem all %d dependency manager components are active\n", len(infos))
		return
	}
	w.printf("%d of %d dependency manager components are not active\n", inactive, len(infos))
}

func printPlantUML(w *errWriter, infos []dm.ComponentInfo) {
	w.printf("@startuml\n")
	for _, info := range infos {
		w.printf("class %s\n", info.Name)
		for _, iface := range info.Interfaces {
			w.printf("interface %s\n", iface.Name)
		}
	}
	// Dependencies last so a required service renders as an interface.
	for _, info := range infos {
		for _, dep := range info.Dependencies {
			w.printf("interface %s\n", dep.ServiceName)
		}
	}
	w.printf("\n")

	for _, info := range infos {
		for _, iface := range info.Interfaces {
			w.printf("%s --|> %s\n", info.Name, iface.Name)
		}
		for _, dep := range info.Dependencies {
			switch {
			case dep.Available:
				w.printf("%s *--> %s\n", info.Name, dep.ServiceName)
			case dep.Required:
				w.printf("%s *..> %s\n", info.Name, dep.ServiceName)
			default:
				w.printf("%s ..> %s\n", info.Name, dep.ServiceName)
			}
		}
	}
	w.printf("@enduml\n")
}

// groupByBundle splits infos into runs sharing a bundle id, keeping order.
func groupByBundle(infos []dm.ComponentInfo) [][]dm.ComponentInfo {
	var groups [][]dm.ComponentInfo
	for i, info := range infos {
		if i == 0 || infos[i-1].BundleID != info.BundleID {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], info)
	}
	return groups
}

// boolField pads false and true to the same width.
func boolField(b bool) string {
	if b {
		return "true "
	}
	return "false"
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// errWriter keeps the first write error so rendering code stays linear.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
