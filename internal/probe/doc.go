// Package probe instruments candidate programs so that both interpreter runs
// report their internal state at the same program points.
//
// Probes are plain calls to \__zd_probe and \__zd_probe_ret. The functions
// themselves live in a prelude loaded with auto_prepend_file, which writes
// one JSON line per probe hit to the file named by ZENDDIFF_PROBE_OUT.
// Program stdout is never touched.
package probe
