package checks

import (
	"regexp"
	"strings"
)

// PytestParser reads pytest's terminal report. Run pytest with -rf so the
// short summary lists each failure.
type PytestParser struct{}

var (
	pytestSummaryRe = regexp.MustCompile(`(?m)^=+ (.*\b(?:passed|failed|error|errors|skipped|no tests ran)\b.*) in [\d.]+s.*=+$`)
	pytestFailedRe  = regexp.MustCompile(`(?m)^(?:FAILED|ERROR) (.+)$`)
)

func (p *PytestParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	m := pytestSummaryRe.FindAllStringSubmatch(stdout, -1)
	if m == nil {
		return (&GenericParser{}).Parse(stdout, stderr, exitCode)
	}
	summary := strings.TrimSpace(m[len(m)-1][1])

	res := ParseResult{Passed: exitCode == 0, Summary: summary}
	if res.Passed {
		return res
	}

	var lines []string
	for _, f := range pytestFailedRe.FindAllStringSubmatch(stdout, -1) {
		lines = append(lines, strings.TrimSpace(f[1]))
	}
	if len(lines) > 0 {
		res.Findings = tail(strings.Join(lines, "\n"), maxOutputLen)
	} else {
		res.Findings = tail(stdout, maxOutputLen)
	}
	return res
}
