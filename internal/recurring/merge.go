package recurring

import "github.com/cyberkelysoatra/bazarkely-sub005/internal/core"

// MergeFunc picks the winner between the local and the remote copy of the
// same rule. The policy is swappable so it can be tested in isolation.
type MergeFunc func(local, remote core.RecurrenceRule) core.RecurrenceRule

// LastWriteWins keeps the local copy unless the remote one is strictly
// newer on UpdatedAt. Ties favour local: the mirror may still hold an
// unsynced edit with the same timestamp.
func LastWriteWins(local, remote core.RecurrenceRule) core.RecurrenceRule {
	if remote.UpdatedAt.After(local.UpdatedAt) {
		return remote
	}
	return local
}
