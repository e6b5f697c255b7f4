package seed

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/roach88/zenddiff/internal/ir"
)

var sectionHeader = regexp.MustCompile(`^--([A-Z_]+)--\s*$`)

// Sections that need a web SAPI, external files or multiple requests. A
// test using any of them cannot run as a standalone CLI program.
var unsupportedSections = map[string]bool{
	"FILEEOF":       true,
	"FILE_EXTERNAL": true,
	"REDIRECTTEST":  true,
	"CGI":           true,
	"POST":          true,
	"POST_RAW":      true,
	"GZIP_POST":     true,
	"DEFLATE_POST":  true,
	"GET":           true,
	"COOKIE":        true,
	"STDIN":         true,
	"ARGS":          true,
	"CAPTURE_STDIO": true,
}

// PHPT is the subset of a php-src test file a seed is built from.
type PHPT struct {
	Title      string
	File       string
	Expect     *string
	INI        map[string]string
	Extensions []string
	SkipIf     string
}

// ParsePHPT splits a .phpt test into its sections.
func ParsePHPT(content string) (*PHPT, error) {
	sections := make(map[string]*strings.Builder)
	var order []string
	var current *strings.Builder

	sc := bufio.NewScanner(strings.NewReader(strings.ReplaceAll(content, "\r\n", "\n")))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if m := sectionHeader.FindStringSubmatch(line); m != nil {
			name := m[1]
			if _, dup := sections[name]; dup {
				return nil, &ValidationError{Field: "phpt", Message: fmt.Sprintf("duplicate section --%s--", name)}
			}
			current = &strings.Builder{}
			sections[name] = current
			order = append(order, name)
			continue
		}
		if current == nil {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading phpt: %w", err)
	}

	for _, name := range order {
		if unsupportedSections[name] {
			return nil, &ValidationError{Field: "phpt", Message: fmt.Sprintf("unsupported section --%s--", name)}
		}
	}
	file, ok := sections["FILE"]
	if !ok {
		return nil, &ValidationError{Field: "phpt", Message: "missing --FILE-- section"}
	}

	t := &PHPT{File: file.String()}
	if title, ok := sections["TEST"]; ok {
		t.Title = strings.TrimSpace(title.String())
	}
	if expect, ok := sections["EXPECT"]; ok {
		e := strings.TrimRight(expect.String(), "\n")
		t.Expect = &e
	}
	if skip, ok := sections["SKIPIF"]; ok {
		t.SkipIf = skip.String()
	}
	if ini, ok := sections["INI"]; ok {
		t.INI = parseINI(ini.String())
	}
	for _, name := range []string{"EXTENSIONS", "EXTENSION"} {
		if ext, ok := sections[name]; ok {
			t.Extensions = append(t.Extensions, strings.Fields(ext.String())...)
		}
	}
	return t, nil
}

func parseINI(body string) map[string]string {
	ini := make(map[string]string)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		ini[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	if len(ini) == 0 {
		return nil
	}
	return ini
}

func loadPHPT(path, name string) (ir.SeedProgram, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.SeedProgram{}, err
	}
	t, err := ParsePHPT(string(data))
	if err != nil {
		return ir.SeedProgram{}, err
	}
	// Tests that toggle the JIT or opcache themselves would fight the
	// execution configs.
	for k := range t.INI {
		if strings.HasPrefix(k, "opcache.") {
			return ir.SeedProgram{}, &ValidationError{Field: "ini", Message: fmt.Sprintf("sets %s", k)}
		}
	}
	return NewSeed(name, t.File, ir.SeedMeta{
		Features:    t.Extensions,
		Expect:      t.Expect,
		INI:         t.INI,
		Description: t.Title,
	})
}
