package mutate

import (
	"fmt"
	"math/rand"

	"github.com/roach88/zenddiff/internal/phpsyntax"
)

// iniSetting is a setting and the values a mutation may give it.
type iniSetting struct {
	key    string
	values []string
}

// runtimeSettings can be changed with ini_set from inside the program.
var runtimeSettings = []iniSetting{
	{"precision", []string{"-1", "5", "10", "12", "14", "17"}},
	{"serialize_precision", []string{"-1", "5", "10", "15", "17", "75"}},
	{"error_reporting", []string{"0", "-1", "1", "2039", "8191", "32767"}},
	{"default_charset", []string{"", "UTF-8", "ISO-8859-1", "cp1251", "cp1252", "big5", "cp932"}},
	{"date.timezone", []string{"UTC", "GMT", "Europe/London", "America/New_York", "Asia/Singapore", "Atlantic/Azores"}},
	{"memory_limit", []string{"-1", "128M", "256M", "512M"}},
}

// startupSettings only take effect on the command line. They tune the
// optimizer and the JIT's trace limits, and are passed to both sides of a
// pair. An execution config that sets the same key wins, since its flags
// come later on the command line.
var startupSettings = []iniSetting{
	{"opcache.optimization_level", []string{"-1", "0", "0x7fffffff", "0x4ff", "0x7FFFBFFF"}},
	{"opcache.jit_max_loop_unrolls", []string{"0", "8", "10"}},
	{"opcache.jit_max_recursive_calls", []string{"0", "2", "10"}},
	{"opcache.jit_max_recursive_returns", []string{"0", "2", "4"}},
	{"opcache.jit_max_polymorphic_calls", []string{"0", "2", "1000"}},
	{"opcache.jit_max_root_traces", []string{"16", "1024"}},
	{"opcache.jit_max_side_traces", []string{"8", "128"}},
	{"opcache.jit_max_exit_counters", []string{"128", "8192"}},
	{"opcache.jit_blacklist_root_trace", []string{"1", "16", "255"}},
	{"opcache.jit_blacklist_side_trace", []string{"1", "8", "255"}},
	{"opcache.jit_hot_return", []string{"1", "8"}},
	{"opcache.jit_hot_side_exit", []string{"1", "8"}},
	{"error_reporting", []string{"E_ALL", "E_ALL & ~E_DEPRECATED", "E_ALL & ~E_WARNING & ~E_NOTICE"}},
	{"opcache.file_update_protection", []string{"0", "2"}},
	{"opcache.interned_strings_buffer", []string{"0", "16"}},
	{"auto_globals_jit", []string{"0", "1"}},
	{"implicit_flush", []string{"0", "1"}},
}

func (s iniSetting) draw(rng *rand.Rand) string {
	return s.values[rng.Intn(len(s.values))]
}

// iniToggle sets a runtime setting at the top of the program, after any
// declare statements.
func iniToggle(f *phpsyntax.File, rng *rand.Rand, _ *Options) (string, bool) {
	at, ok := preambleEnd(f)
	if !ok {
		return "", false
	}
	s := runtimeSettings[rng.Intn(len(runtimeSettings))]
	return phpsyntax.ApplyEdits(f.Source, []phpsyntax.Edit{
		phpsyntax.Insert(at, fmt.Sprintf("\nini_set('%s', '%s');", s.key, s.draw(rng))),
	}), true
}

// iniStartup draws one startup setting for the candidate's INI.
func iniStartup(rng *rand.Rand) (string, string) {
	s := startupSettings[rng.Intn(len(startupSettings))]
	return s.key, s.draw(rng)
}
