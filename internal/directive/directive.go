package directive

import (
	"regexp"
	"strings"
)

// Markers recognized in commit messages. Matching is literal except for
// the restart marker, which captures a service name.
const (
	MarkerSkip        = "[compose:noop]"
	MarkerFullRestart = "[compose:down]"
	MarkerForceUpdate = "[compose:up]"
)

var restartPattern = regexp.MustCompile(`\[compose:restart:([^\]]+)\]`)

// Set holds the directives found in a single commit message. Multiple
// markers may co-occur; precedence between them is the classifier's
// concern, not the parser's.
type Set struct {
	Skip          bool
	FullRestart   bool
	ForceUpdate   bool
	RestartTarget string
}

// Parse scans a commit message for deployment directives. The message is
// scanned as plain text; markers anywhere in the subject or body count.
// For the restart marker only the first occurrence wins.
func Parse(message string) Set {
	var s Set

	s.Skip = strings.Contains(message, MarkerSkip)
	s.FullRestart = strings.Contains(message, MarkerFullRestart)
	s.ForceUpdate = strings.Contains(message, MarkerForceUpdate)

	if m := restartPattern.FindStringSubmatch(message); m != nil {
		s.RestartTarget = m[1]
	}

	return s
}

// Empty returns true when the message carried no directives at all.
func (s Set) Empty() bool {
	return !s.Skip && !s.FullRestart && !s.ForceUpdate && s.RestartTarget == ""
}
