package targets

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var urlRx = regexp.MustCompile(`^https?://vk\.com/([^?]*)`)

// Read parses a target list file into a sorted, deduplicated slice of
// screen names. Each line holds a vk.com wall URL, optionally followed
// by comma-separated extra columns which are ignored. Lines that do not
// look like vk.com URLs are skipped. Numeric "public" walls are
// rewritten to their "club" alias, which is what the API answers to.
func Read(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open target list: %w", err)
	}
	defer f.Close()

	seen := make(map[string]bool)
	var names []string

	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}
		if idx := strings.IndexByte(line, ','); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		m := urlRx.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := strings.TrimSuffix(m[1], "/")
		if name == "" {
			continue
		}
		if rest := strings.TrimPrefix(name, "public"); rest != name && isDigits(rest) {
			name = "club" + rest
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read target list: %w", err)
	}

	sort.Strings(names)
	return names, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
