package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		mode    Mode
		ids     []int64
		skipped []string
	}{
		{name: "no arguments", mode: ModeBasic},
		{name: "full", args: []string{"full"}, mode: ModeFull},
		{name: "short full", args: []string{"f", "3"}, mode: ModeFull, ids: []int64{3}},
		{name: "plantuml", args: []string{"uml"}, mode: ModePlantUML},
		{name: "wtf wins", args: []string{"f", "u", "wtf"}, mode: ModeWTF},
		{name: "bundle ids", args: []string{"1", "2"}, mode: ModeBasic, ids: []int64{1, 2}},
		{name: "unknown", args: []string{"x", "9z"}, mode: ModeBasic, skipped: []string{"x", "9z"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, skipped := ParseArgs(tt.args)
			assert.Equal(t, tt.mode, opts.Mode)
			assert.Equal(t, tt.ids, opts.BundleIDs)
			assert.Equal(t, tt.skipped, skipped)
		})
	}
}
