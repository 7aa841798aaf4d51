package router

import "regexp"

// Pattern matches an incoming action type.
type Pattern interface {
	Match(actionType string) bool
}

// Exact matches the action type by string equality.
type Exact string

func (e Exact) Match(actionType string) bool {
	return string(e) == actionType
}

// Regex matches the action type against a compiled expression. The
// whole action type must match, not just a substring or prefix, so the
// expression is re-anchored at construction. A leftmost-first scan is
// not enough here: PLAY|PLAYER must still match "PLAYER".
func Regex(re *regexp.Regexp) Pattern {
	return regexPattern{
		re: regexp.MustCompile(`\A(?:` + re.String() + `)\z`),
	}
}

type regexPattern struct {
	re *regexp.Regexp
}

func (p regexPattern) Match(actionType string) bool {
	return p.re.MatchString(actionType)
}

func (p regexPattern) String() string {
	return p.re.String()
}
