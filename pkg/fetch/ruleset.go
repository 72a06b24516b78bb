package fetch

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/Sriram-PR/polite-crawler/pkg/utils"
)

// RulesetClass describes what a robots.txt group declares for one agent
type RulesetClass int

const (
	// RulesetEmpty means no group applies to the agent, or the applicable group declares nothing
	RulesetEmpty RulesetClass = iota
	// RulesetDelayOnly means the applicable group declares a Crawl-delay but no Allow/Disallow lines
	RulesetDelayOnly
	// RulesetRules means the applicable group declares Allow/Disallow lines (with or without a delay)
	RulesetRules
)

func (c RulesetClass) String() string {
	switch c {
	case RulesetEmpty:
		return "empty"
	case RulesetDelayOnly:
		return "delay-only"
	case RulesetRules:
		return "rules"
	default:
		return fmt.Sprintf("RulesetClass(%d)", int(c))
	}
}

// section is one User-agent block as written in the file
type section struct {
	agents    []string
	allows    []string
	disallows []string
	allowAll  bool // an empty "Disallow:" line
	delay     float64
	hasDelay  bool
}

func (s *section) declaresAnything() bool {
	return len(s.allows) > 0 || len(s.disallows) > 0 || s.allowAll || s.hasDelay
}

// pathRule is one Allow or Disallow line. length is the pattern as written
// and decides precedence; the matcher is a single-rule temoto group
type pathRule struct {
	allow   bool
	length  int
	literal string // normalized pattern up to its first wildcard
	exact   bool   // "$"-terminated pattern without "*"
	matcher *robotstxt.RobotsData
}

func newPathRule(pattern string, allow bool) (pathRule, error) {
	norm := pattern
	if !strings.HasPrefix(norm, "*") && !strings.HasPrefix(norm, "/") {
		norm = "/" + norm
	}
	norm = strings.TrimRight(norm, "*")
	if norm == "" {
		norm = "/"
	}
	r := pathRule{allow: allow, length: len(pattern), literal: norm}
	if i := strings.IndexAny(norm, "*$"); i >= 0 {
		r.literal = norm[:i]
		r.exact = !strings.Contains(norm, "*") && i == len(norm)-1
	}
	data, err := robotstxt.FromString("User-agent: *\nDisallow: " + norm + "\n")
	if err != nil {
		return pathRule{}, err
	}
	r.matcher = data
	return r, nil
}

// matches reports whether the rule applies to path, anchored at its start
func (r pathRule) matches(path string) bool {
	if !strings.HasPrefix(path, r.literal) {
		return false
	}
	if r.exact {
		return path == r.literal
	}
	return !r.matcher.TestAgent(path, "*")
}

// groupInfo aggregates every section naming the same agent
type groupInfo struct {
	rules    []pathRule
	delay    float64
	hasDelay bool
}

// Ruleset is a parsed robots.txt file
type Ruleset struct {
	groups   map[string]*groupInfo // lowercased agent -> aggregate
	sitemaps []string
}

// ParseRuleset parses a robots.txt body
// Directives appearing before any User-agent line are attached to an implicit "*" group
// Unknown fields and malformed Crawl-delay values are skipped
func ParseRuleset(body []byte) (*Ruleset, error) {
	var (
		sections []*section
		cur      *section
		sitemaps []string
	)
	// startSection opens a new block unless the current one has only seen User-agent lines
	startSection := func() *section {
		if cur == nil || cur.declaresAnything() {
			cur = &section{}
			sections = append(sections, cur)
		}
		return cur
	}
	// orphan returns the block for directives that precede any User-agent line
	orphan := func() *section {
		if cur == nil {
			cur = &section{agents: []string{"*"}}
			sections = append(sections, cur)
		}
		return cur
	}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 4096), len(body)+1)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = firstField(value)

		switch key {
		case "user-agent", "useragent":
			if value == "" {
				continue
			}
			s := startSection()
			s.agents = append(s.agents, strings.ToLower(value))
		case "allow":
			if value != "" {
				s := orphan()
				s.allows = append(s.allows, value)
			}
		case "disallow":
			s := orphan()
			if value == "" {
				s.allowAll = true
			} else {
				s.disallows = append(s.disallows, value)
			}
		case "crawl-delay", "crawldelay":
			d, err := strconv.ParseFloat(value, 64)
			if err != nil || d < 0 || math.IsInf(d, 0) || math.IsNaN(d) {
				continue
			}
			s := orphan()
			s.delay, s.hasDelay = d, true
		case "sitemap":
			if value != "" {
				sitemaps = append(sitemaps, value)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, utils.WrapErrorf(utils.ErrParsing, "robots scan: %v", err)
	}

	groups := make(map[string]*groupInfo)
	for _, sec := range sections {
		if !sec.declaresAnything() || len(sec.agents) == 0 {
			continue
		}
		rules, err := sec.pathRules()
		if err != nil {
			return nil, utils.WrapErrorf(utils.ErrParsing, "robots rules: %v", err)
		}
		for _, a := range sec.agents {
			g := groups[a]
			if g == nil {
				g = &groupInfo{}
				groups[a] = g
			}
			g.rules = append(g.rules, rules...)
			if sec.hasDelay {
				g.delay, g.hasDelay = sec.delay, true
			}
		}
	}
	return &Ruleset{groups: groups, sitemaps: sitemaps}, nil
}

func (s *section) pathRules() ([]pathRule, error) {
	var rules []pathRule
	add := func(pattern string, allow bool) error {
		r, err := newPathRule(pattern, allow)
		if err == nil {
			rules = append(rules, r)
		}
		return err
	}
	for _, v := range s.allows {
		if err := add(v, true); err != nil {
			return nil, err
		}
	}
	if s.allowAll {
		if err := add("/", true); err != nil {
			return nil, err
		}
	}
	for _, v := range s.disallows {
		if err := add(v, false); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

// findGroup selects the group for agent: the longest declared agent that
// prefixes the agent token, falling back to "*"
func (r *Ruleset) findGroup(agent string) *groupInfo {
	agent = strings.ToLower(agent)
	ret := r.groups["*"]
	prefixLen := 0
	if ret != nil {
		prefixLen = 1
	}
	for a, g := range r.groups {
		if a != "*" && strings.HasPrefix(agent, a) && len(a) > prefixLen {
			prefixLen = len(a)
			ret = g
		}
	}
	return ret
}

// Classify reports what the group applicable to agent declares
func (r *Ruleset) Classify(agent string) RulesetClass {
	if r == nil {
		return RulesetEmpty
	}
	g := r.findGroup(agent)
	switch {
	case g == nil:
		return RulesetEmpty
	case len(g.rules) > 0:
		return RulesetRules
	case g.hasDelay:
		return RulesetDelayOnly
	default:
		return RulesetEmpty
	}
}

// Allowed reports whether agent may fetch path (path plus optional query)
// The longest matching pattern wins and Allow wins ties; no match allows
// A nil Ruleset allows everything
func (r *Ruleset) Allowed(path, agent string) bool {
	if r == nil || r.Classify(agent) != RulesetRules {
		return true
	}
	if path == "" {
		path = "/"
	}
	allowed, best := true, -1
	for _, rule := range r.findGroup(agent).rules {
		if !rule.matches(path) {
			continue
		}
		if rule.length > best || (rule.length == best && rule.allow) {
			allowed, best = rule.allow, rule.length
		}
	}
	return allowed
}

// CrawlDelay returns the declared delay for agent rounded up to whole seconds
// A declared delay is never shorter than one second; no declaration yields 0
func (r *Ruleset) CrawlDelay(agent string) time.Duration {
	if r == nil {
		return 0
	}
	g := r.findGroup(agent)
	if g == nil || !g.hasDelay {
		return 0
	}
	secs := math.Ceil(g.delay)
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Sitemaps returns the Sitemap URLs listed in the file
func (r *Ruleset) Sitemaps() []string {
	if r == nil {
		return nil
	}
	return r.sitemaps
}
