package probe

import (
	"bytes"
	_ "embed"
	"text/template"
)

// OutputEnv names the environment variable holding the snapshot file path.
const OutputEnv = "ZENDDIFF_PROBE_OUT"

// Limits bound what a single run may emit through the probe channel.
type Limits struct {
	MaxDepth     int `json:"max_depth"`
	MaxWidth     int `json:"max_width"`
	MaxString    int `json:"max_string"`
	MaxSnapshots int `json:"max_snapshots"`
}

// DefaultLimits returns the limits used when the config sets none.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:     8,
		MaxWidth:     256,
		MaxString:    4096,
		MaxSnapshots: 10000,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	if l.MaxWidth <= 0 {
		l.MaxWidth = d.MaxWidth
	}
	if l.MaxString <= 0 {
		l.MaxString = d.MaxString
	}
	if l.MaxSnapshots <= 0 {
		l.MaxSnapshots = d.MaxSnapshots
	}
	return l
}

//go:embed prelude.php.tmpl
var preludeSource string

var preludeTmpl = template.Must(template.New("prelude").Parse(preludeSource))

// Prelude renders the PHP runtime for the probe calls.
func Prelude(l Limits) string {
	l = l.withDefaults()
	var buf bytes.Buffer
	data := struct {
		Limits
		OutputEnv string
	}{l, OutputEnv}
	if err := preludeTmpl.Execute(&buf, data); err != nil {
		// The template is static; failure here is a programming error.
		panic(err)
	}
	return buf.String()
}
