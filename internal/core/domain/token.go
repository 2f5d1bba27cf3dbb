// Package domain defines the core domain models for KiteSync.
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// CommitToken identifies a committed position in the replicated log.
// Tokens are totally ordered by (Epoch, LogIndex) and rendered on the
// wire as "<epoch>:<log_index>".
type CommitToken struct {
	Epoch    uint64 // Primary term that produced the commit, >= 1
	LogIndex uint64 // 1-based position within the epoch
}

// String renders the token in its wire form.
func (t CommitToken) String() string {
	return fmt.Sprintf("%d:%d", t.Epoch, t.LogIndex)
}

// Compare orders two tokens by epoch, then log index.
// Returns -1, 0 or 1.
func (t CommitToken) Compare(other CommitToken) int {
	if t.Epoch != other.Epoch {
		if t.Epoch < other.Epoch {
			return -1
		}
		return 1
	}
	if t.LogIndex != other.LogIndex {
		if t.LogIndex < other.LogIndex {
			return -1
		}
		return 1
	}
	return 0
}

// Before reports whether t orders strictly before other.
func (t CommitToken) Before(other CommitToken) bool {
	return t.Compare(other) < 0
}

// IsZero reports whether the token is the zero value. Minted tokens
// always carry epoch >= 1 and log index >= 1.
func (t CommitToken) IsZero() bool {
	return t.Epoch == 0 && t.LogIndex == 0
}

// ParseCommitToken parses the "<epoch>:<log_index>" wire form.
// Both components must be strict non-negative decimals; anything else
// fails with ErrInvalidArgument.
func ParseCommitToken(s string) (CommitToken, error) {
	left, right, ok := strings.Cut(s, ":")
	if !ok {
		return CommitToken{}, ErrInvalidArgument.WithDetails("commit token must be <epoch>:<log_index>")
	}
	epoch, err := parseTokenComponent(left)
	if err != nil {
		return CommitToken{}, ErrInvalidArgument.WithDetails("malformed epoch in commit token").WithCause(err)
	}
	index, err := parseTokenComponent(right)
	if err != nil {
		return CommitToken{}, ErrInvalidArgument.WithDetails("malformed log index in commit token").WithCause(err)
	}
	return CommitToken{Epoch: epoch, LogIndex: index}, nil
}

// parseTokenComponent rejects empty strings, signs, and leading-plus
// forms that strconv would otherwise accept via ParseInt.
func parseTokenComponent(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty component")
	}
	if s[0] == '+' || s[0] == '-' {
		return 0, fmt.Errorf("signed component %q", s)
	}
	return strconv.ParseUint(s, 10, 64)
}
