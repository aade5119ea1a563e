package executor

import (
	"regexp"
	"strings"
)

// Recognised failure lines: go test, jest/vitest file and title lines, pytest.
var failingTestPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*--- FAIL:\s+(\S+)`),
	regexp.MustCompile(`^\s*FAIL\s+(\S+\.\w+)`),
	regexp.MustCompile(`^\s*●\s+(.+?)\s*$`),
	regexp.MustCompile(`^\s*(?:ERROR|FAILED):?\s+(\S+)`),
}

// failingTests extracts failing test names from script output, in order of first appearance.
func failingTests(output string) []string {
	seen := make(map[string]struct{})
	names := make([]string, 0, 8)
	for _, line := range strings.Split(output, "\n") {
		for _, re := range failingTestPatterns {
			m := re.FindStringSubmatch(line)
			if len(m) < 2 {
				continue
			}
			name := strings.TrimSpace(m[1])
			if _, ok := seen[name]; !ok && name != "" {
				seen[name] = struct{}{}
				names = append(names, name)
			}
			break
		}
	}
	return names
}
