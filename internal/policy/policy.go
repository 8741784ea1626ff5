// Package policy implements the domain policy matcher (C1): canonicalization
// of hostnames, exact and wildcard-suffix matching against a blocklist, and
// hot reload of the underlying rule set without exposing a half-built state
// to concurrent readers.
package policy

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
)

var hostnameGrammar = regexp.MustCompile(`^[a-z0-9]([a-z0-9.-]*[a-z0-9])?$`)

// WarnFunc receives a warning message for an entry dropped during load.
// The caller supplies this so policy stays decoupled from the logging
// implementation (C7/C9).
type WarnFunc func(msg string, path string, line int)

// ruleSet is the immutable snapshot swapped atomically on reload.
type ruleSet struct {
	exact    map[string]struct{}
	suffixes []string
}

// Policy matches request hosts against a hot-reloadable blocklist.
type Policy struct {
	path string
	warn WarnFunc

	current atomic.Value // holds *ruleSet
}

// New loads path and returns a ready Policy. If warn is nil, warnings
// during load are discarded.
func New(path string, warn WarnFunc) (*Policy, error) {
	if warn == nil {
		warn = func(string, string, int) {}
	}
	p := &Policy{path: path, warn: warn}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload rebuilds the rule set from disk and atomically replaces it.
// Readers in flight continue to observe the prior complete generation
// until this call returns, at which point every subsequent Match call
// sees the new complete generation.
func (p *Policy) Reload() error {
	rs, err := loadRuleSet(p.path, p.warn)
	if err != nil {
		return err
	}
	p.current.Store(rs)
	return nil
}

func loadRuleSet(path string, warn WarnFunc) (*ruleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("policy: opening blocklist %q: %w", path, err)
	}
	defer f.Close()

	rs := &ruleSet{exact: make(map[string]struct{})}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		isSuffix := strings.HasPrefix(line, "*.")
		canon := Canonicalize(line)
		if canon == "" {
			warn(fmt.Sprintf("dropping unparsable blocklist entry %q", line), path, lineNo)
			continue
		}

		if isSuffix {
			suffix := strings.TrimPrefix(canon, "*.")
			rs.suffixes = append(rs.suffixes, suffix)
		} else {
			rs.exact[canon] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("policy: reading blocklist %q: %w", path, err)
	}

	return rs, nil
}

// Match reports whether host is blocked by the current rule set. An
// unparsable host (canonicalization failure) never matches.
func (p *Policy) Match(host string) bool {
	host = stripPort(host)
	canon := Canonicalize(host)
	if canon == "" {
		return false
	}

	rs, _ := p.current.Load().(*ruleSet)
	if rs == nil {
		return false
	}

	if _, ok := rs.exact[canon]; ok {
		return true
	}
	for _, s := range rs.suffixes {
		if canon == s || strings.HasSuffix(canon, "."+s) {
			return true
		}
	}
	return false
}

func stripPort(host string) string {
	if i := strings.LastIndex(host, ":"); i >= 0 {
		// Only strip if what follows the last colon parses as a number.
		// Unbracketed IPv6 literals are not recognized: one whose last
		// group is all digits loses that group, and none of them pass
		// Canonicalize, so they never match.
		if _, err := strconv.Atoi(host[i+1:]); err == nil {
			return host[:i]
		}
	}
	return host
}

// Canonicalize normalizes a hostname per spec: trim, lowercase, reject
// non-ASCII/non-printable, reject length > 253, and validate the grammar
// (hostname token or dotted-quad IPv4). A leading "*." is ignored for the
// grammar check and kept in the returned value; the caller strips it when
// storing a suffix rule. Returns "" on any failure.
func Canonicalize(host string) string {
	host = strings.TrimSpace(host)
	host = strings.ToLower(host)

	for _, r := range host {
		if r > 126 || r < 0x20 {
			return ""
		}
	}

	if host == "" || len(host) > 253 {
		return ""
	}

	check := host
	hadWildcard := strings.HasPrefix(check, "*.")
	if hadWildcard {
		check = strings.TrimPrefix(check, "*.")
	}

	if !hostnameGrammar.MatchString(check) && !isDottedQuad(check) {
		return ""
	}

	return host
}

func isDottedQuad(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}
