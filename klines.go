package main

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// KLine is a ban on connections whose ident@host matches Mask.
// Masks support '*' and '?' glob wildcards.
type KLine struct {
	Mask   string
	Reason string
	SetBy  string
	SetAt  time.Time
}

// matchesMask reports whether ident@host matches a K-Line mask using
// simple '*'/'?' glob semantics (no regex metacharacters).
func matchesMask(mask, identHost string) bool {
	return globMatch(strings.ToLower(mask), strings.ToLower(identHost))
}

func globMatch(pattern, s string) bool {
	// Standard glob matching via a small DP table; the mask strings
	// here are short (ident@host), so this is never performance
	// sensitive.
	pn, sn := len(pattern), len(s)
	dp := make([][]bool, pn+1)
	for i := range dp {
		dp[i] = make([]bool, sn+1)
	}
	dp[0][0] = true
	for i := 1; i <= pn; i++ {
		if pattern[i-1] == '*' {
			dp[i][0] = dp[i-1][0]
		}
	}
	for i := 1; i <= pn; i++ {
		for j := 1; j <= sn; j++ {
			switch pattern[i-1] {
			case '*':
				dp[i][j] = dp[i-1][j] || dp[i][j-1]
			case '?':
				dp[i][j] = dp[i-1][j-1]
			default:
				dp[i][j] = dp[i-1][j-1] && pattern[i-1] == s[j-1]
			}
		}
	}
	return dp[pn][sn]
}

// addAndApplyKLine records a new K-Line and immediately disconnects
// any currently-connected local user it matches.
func addAndApplyKLine(cb *Catbox, mask, reason, setBy string) (*KLine, error) {
	if !strings.Contains(mask, "@") {
		return nil, errors.New("mask must be in the form ident@host")
	}

	kl := &KLine{Mask: mask, Reason: reason, SetBy: setBy, SetAt: time.Now()}
	cb.KLines = append(cb.KLines, kl)

	for _, u := range append([]*User{}, usersSnapshot(cb)...) {
		if !u.isLocal() {
			continue
		}
		identHost := u.Username + "@" + u.RealHost
		if isExempt(cb, identHost) {
			continue
		}
		if matchesMask(mask, identHost) {
			u.LocalUser.quit("K-Lined: " + reason)
			quitUser(cb, u, "K-Lined: "+reason)
			cb.Stats.KLineHits++
			cb.Metrics.klineHits.Inc()
		}
	}

	return kl, nil
}

func usersSnapshot(cb *Catbox) []*User {
	out := make([]*User, 0, len(cb.Nicks))
	for _, u := range cb.Nicks {
		out = append(out, u)
	}
	return out
}

// removeKLine deletes the first K-Line matching mask exactly,
// reporting whether one was found.
func removeKLine(cb *Catbox, mask string) bool {
	for i, kl := range cb.KLines {
		if strings.EqualFold(kl.Mask, mask) {
			cb.KLines = append(cb.KLines[:i], cb.KLines[i+1:]...)
			return true
		}
	}
	return false
}

// matchesAnyKLine reports whether identHost matches any active
// K-Line, returning the first match. E-Line exemptions are honored
// here so every caller gets them for free.
func matchesAnyKLine(cb *Catbox, identHost string) (*KLine, bool) {
	if isExempt(cb, identHost) {
		return nil, false
	}
	for _, kl := range cb.KLines {
		if matchesMask(kl.Mask, identHost) {
			return kl, true
		}
	}
	return nil, false
}

// addZLine records an IP ban and disconnects any local user whose
// real host matches. Z-Lines are checked at accept time, before the
// connection says anything.
func addZLine(cb *Catbox, mask, reason, setBy string) *KLine {
	zl := &KLine{Mask: mask, Reason: reason, SetBy: setBy, SetAt: time.Now()}
	cb.ZLines = append(cb.ZLines, zl)

	for _, u := range usersSnapshot(cb) {
		if !u.isLocal() {
			continue
		}
		if isExempt(cb, u.Username+"@"+u.RealHost) {
			continue
		}
		if matchesMask(mask, u.RealHost) {
			u.LocalUser.quit("Z-Lined: " + reason)
			quitUser(cb, u, "Z-Lined: "+reason)
			cb.Stats.KLineHits++
			cb.Metrics.klineHits.Inc()
		}
	}
	return zl
}

// matchesAnyZLine reports whether ip matches any active Z-Line.
func matchesAnyZLine(cb *Catbox, ip string) (*KLine, bool) {
	if isExempt(cb, "*@"+ip) {
		return nil, false
	}
	for _, zl := range cb.ZLines {
		if matchesMask(zl.Mask, ip) {
			return zl, true
		}
	}
	return nil, false
}

// addQLine records a forbidden-nick mask. Users already holding a
// matching nick are killed rather than renamed.
func addQLine(cb *Catbox, mask, reason, setBy string) *KLine {
	ql := &KLine{Mask: mask, Reason: reason, SetBy: setBy, SetAt: time.Now()}
	cb.QLines = append(cb.QLines, ql)

	for _, u := range usersSnapshot(cb) {
		if !u.isLocal() {
			continue
		}
		if globMatch(strings.ToLower(mask), strings.ToLower(u.DisplayNick)) {
			u.LocalUser.quit("Q-Lined: " + reason)
			quitUser(cb, u, "Q-Lined: "+reason)
		}
	}
	return ql
}

// nickForbidden reports whether nick matches any active Q-Line.
func nickForbidden(cb *Catbox, nick string) (*KLine, bool) {
	for _, ql := range cb.QLines {
		if globMatch(strings.ToLower(ql.Mask), strings.ToLower(nick)) {
			return ql, true
		}
	}
	return nil, false
}

// addELine records an exemption from K- and Z-lines.
func addELine(cb *Catbox, mask, reason, setBy string) *KLine {
	el := &KLine{Mask: mask, Reason: reason, SetBy: setBy, SetAt: time.Now()}
	cb.ELines = append(cb.ELines, el)
	return el
}

// isExempt reports whether identHost matches any active E-Line.
func isExempt(cb *Catbox, identHost string) bool {
	for _, el := range cb.ELines {
		if matchesMask(el.Mask, identHost) {
			return true
		}
	}
	return false
}
