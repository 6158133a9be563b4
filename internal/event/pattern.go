package event

import (
	"errors"
	"strings"
)

// ErrInvalidPattern is returned when a subscription pattern fails validation.
var ErrInvalidPattern = errors.New("eventbus: invalid pattern")

// Pattern is a compiled glob subscription pattern. Grammar: segments
// separated by dots; "*" matches exactly one segment; "**" matches zero or
// more segments; "{a,b,c}" is a literal alternation within one segment.
type Pattern struct {
	raw    string
	segs   []patternSeg
	domain Domain // zero value if the pattern fire-hoses across domains
}

type patternSeg struct {
	wild   bool     // "*"
	deep   bool     // "**"
	alts   []string // literal alternatives, nil for wild/deep
}

// NewPattern compiles and validates a subscription pattern.
func NewPattern(raw string) (Pattern, error) {
	if raw == "" {
		return Pattern{}, ErrInvalidPattern
	}
	parts := strings.Split(raw, ".")
	segs := make([]patternSeg, 0, len(parts))
	for _, p := range parts {
		seg, err := compileSeg(p)
		if err != nil {
			return Pattern{}, err
		}
		segs = append(segs, seg)
	}
	p := Pattern{raw: raw, segs: segs}
	if len(segs) > 0 && len(segs[0].alts) == 1 && !segs[0].wild && !segs[0].deep {
		if validDomain(segs[0].alts[0]) {
			p.domain = Domain(segs[0].alts[0])
		}
	}
	return p, nil
}

func compileSeg(p string) (patternSeg, error) {
	switch {
	case p == "**":
		return patternSeg{deep: true}, nil
	case p == "*":
		return patternSeg{wild: true}, nil
	case strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}"):
		inner := p[1 : len(p)-1]
		if inner == "" {
			return patternSeg{}, ErrInvalidPattern
		}
		return patternSeg{alts: strings.Split(inner, ",")}, nil
	case p == "":
		return patternSeg{}, ErrInvalidPattern
	default:
		return patternSeg{alts: []string{p}}, nil
	}
}

// Domain returns the pattern's anchored domain and true, or ("", false) if
// the pattern is a fire-hose subscription drawing from all domain queues.
func (p Pattern) Domain() (Domain, bool) {
	return p.domain, p.domain != ""
}

// String returns the original pattern text.
func (p Pattern) String() string { return p.raw }

// Match reports whether channel satisfies the pattern.
func (p Pattern) Match(channel string) bool {
	return matchSegs(p.segs, strings.Split(channel, "."))
}

func matchSegs(pat []patternSeg, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	head := pat[0]
	if head.deep {
		// "**" may consume zero or more channel segments.
		for n := 0; n <= len(segs); n++ {
			if matchSegs(pat[1:], segs[n:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	if head.wild {
		return matchSegs(pat[1:], segs[1:])
	}
	for _, alt := range head.alts {
		if alt == segs[0] {
			return matchSegs(pat[1:], segs[1:])
		}
	}
	return false
}
