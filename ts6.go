package main

import (
	"fmt"
	"regexp"
)

// maxTS6ID is the number of distinct TS6 IDs a single server run can
// hand out: the first character must be [A-Z] (26 values), the
// remaining 5 are [A-Z0-9] (36 values each).
const maxTS6ID = 26 * 36 * 36 * 36 * 36 * 36

var ts6SIDPattern = regexp.MustCompile(`^[0-9][0-9A-Z]{2}$`)

// isValidSID reports whether s has the TS6 server-ID shape: one
// digit followed by two alphanumerics.
func isValidSID(s string) bool {
	return ts6SIDPattern.MatchString(s)
}

// makeTS6ID converts a per-run monotonic connection ID into its TS6
// textual form: 6 characters, first [A-Z], remaining [A-Z0-9].
//
// The ID space tops out at maxTS6ID; a server that hands out more
// than that many connection IDs in one run cannot continue minting
// fresh IDs and must be restarted.
func makeTS6ID(id uint64) (string, error) {
	if id >= maxTS6ID {
		return "", fmt.Errorf("TS6 ID overflow")
	}

	n := id
	ts6id := []byte("AAAAAA")

	for pos := 5; pos >= 0; pos-- {
		if n >= 36 {
			rem := n % 36
			ts6id[pos] = ts6Digit(rem)
			n /= 36
			continue
		}
		ts6id[pos] = ts6Digit(n)
		break
	}

	return string(ts6id), nil
}

// ts6Digit renders a base-36 digit (0-35) as [A-Z0-9]: 0-25 are A-Z,
// 26-35 are 0-9.
func ts6Digit(rem uint64) byte {
	if rem >= 26 {
		return byte(rem-26) + '0'
	}
	return byte(rem) + 'A'
}

// makeTS6UID joins a server's SID with a freshly minted TS6 ID to
// form a globally unique user ID.
func makeTS6UID(sid string, id uint64) (string, error) {
	tid, err := makeTS6ID(id)
	if err != nil {
		return "", err
	}
	return sid + tid, nil
}
