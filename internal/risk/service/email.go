package service

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

const (
	pointsEmailAlias      = 30
	pointsEmailSameDomain = 25
	pointsEmailOther      = 20
)

type emailMatch struct {
	points int
	kind   string
	other  string
}

func splitEmail(addr string) (string, string, bool) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	return addr[:at], addr[at+1:], true
}

// emailStem drops a plus-tag and any trailing counter, so "jane+2@x" and
// "jane.03@x" both reduce to "jane".
func emailStem(local string) string {
	if plus := strings.IndexByte(local, '+'); plus > 0 {
		local = local[:plus]
	}
	local = strings.TrimRightFunc(local, unicode.IsDigit)
	return strings.TrimRight(local, "._-")
}

// bestEmailMatch returns the strongest similarity between email and any
// of the existing addresses.
func bestEmailMatch(email string, existing []string, maxDistance int) (emailMatch, bool) {
	local, domain, ok := splitEmail(email)
	if !ok {
		return emailMatch{}, false
	}
	stem := emailStem(local)

	var best emailMatch
	for _, other := range existing {
		otherLocal, otherDomain, ok := splitEmail(other)
		if !ok {
			continue
		}

		var m emailMatch
		switch {
		case domain == otherDomain && stem != "" && stem == emailStem(otherLocal):
			m = emailMatch{points: pointsEmailAlias, kind: "aliased or sequential address"}
		case domain == otherDomain && levenshtein.ComputeDistance(local, otherLocal) <= maxDistance:
			m = emailMatch{points: pointsEmailSameDomain, kind: "near-identical address on the same domain"}
		case len(local) > maxDistance+2 && levenshtein.ComputeDistance(local, otherLocal) <= maxDistance:
			m = emailMatch{points: pointsEmailOther, kind: "near-identical local part on another domain"}
		default:
			continue
		}
		m.other = other
		if m.points > best.points {
			best = m
		}
	}
	return best, best.points > 0
}
