package config

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/QUIC-Lab/quic-lab/internal/model"
)

// LoadDomains reads the domains file grammar of spec.md §6: one host
// per line, UTF-8, "#" introduces a comment to end of line (whether
// the whole line or just a trailing part of it), blank/whitespace-only
// lines are skipped. The Scheduler does not deduplicate; neither does
// this parser.
func LoadDomains(path string) ([]model.DomainTarget, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &model.IoError{Cause: err}
	}
	defer f.Close()
	return ParseDomains(f)
}

// ParseDomains is the pure, testable core of LoadDomains.
func ParseDomains(r io.Reader) ([]model.DomainTarget, error) {
	var out []model.DomainTarget
	scanner := bufio.NewScanner(r)
	idx := 0
	for scanner.Scan() {
		line := scanner.Text()
		if hash := strings.IndexByte(line, '#'); hash >= 0 {
			line = line[:hash]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, model.DomainTarget{Host: line, Index: idx})
		idx++
	}
	if err := scanner.Err(); err != nil {
		return nil, &model.IoError{Cause: err}
	}
	return out, nil
}
