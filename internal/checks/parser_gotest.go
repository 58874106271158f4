package checks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
)

// GoTestParser reads `go test -json` event streams.
type GoTestParser struct{}

type goTestEvent struct {
	Action  string `json:"Action"`
	Package string `json:"Package"`
	Test    string `json:"Test"`
	Output  string `json:"Output"`
}

const maxTestOutput = 2000

func (p *GoTestParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var (
		passed, failed, skipped int
		events                  int
		failures                []string
		output                  = map[string]*strings.Builder{}
	)

	sc := bufio.NewScanner(strings.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var ev goTestEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil || ev.Action == "" {
			continue
		}
		events++
		key := ev.Package + "." + ev.Test
		switch ev.Action {
		case "output":
			b, ok := output[key]
			if !ok {
				b = &strings.Builder{}
				output[key] = b
			}
			b.WriteString(ev.Output)
		case "pass":
			if ev.Test != "" {
				passed++
			}
		case "skip":
			if ev.Test != "" {
				skipped++
			}
		case "fail":
			if ev.Test == "" {
				// Package-level failure, e.g. a build error.
				if b := output[key]; b != nil && failed == 0 {
					failures = append(failures, fmt.Sprintf("%s: %s", ev.Package, tail(strings.TrimSpace(b.String()), maxTestOutput)))
				}
				continue
			}
			failed++
			msg := ev.Package + " " + ev.Test
			if b := output[key]; b != nil {
				msg += ":\n" + tail(strings.TrimSpace(b.String()), maxTestOutput)
			}
			failures = append(failures, msg)
		}
	}

	if events == 0 {
		return (&GenericParser{}).Parse(stdout, stderr, exitCode)
	}

	res := ParseResult{
		Passed:  exitCode == 0 && failed == 0 && len(failures) == 0,
		Summary: fmt.Sprintf("%d passed, %d failed, %d skipped", passed, failed, skipped),
	}
	if len(failures) > 0 {
		res.Findings = tail(strings.Join(failures, "\n\n"), maxOutputLen)
	} else if !res.Passed {
		res.Findings = tail(strings.TrimSpace(stderr), maxOutputLen)
	}
	return res
}
