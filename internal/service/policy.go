package service

import "github.com/supportchat/internal/model"

// TransitionPolicy decides whether a moderator may move a session from one status to another.
type TransitionPolicy interface {
	Allow(from, to model.SessionStatus) bool
}

// Unrestricted allows every transition, including reactivating deleted sessions.
type Unrestricted struct{}

func (Unrestricted) Allow(from, to model.SessionStatus) bool { return true }

// TransitionTable lists the allowed targets per source status. Setting the current
// status again is always allowed.
type TransitionTable map[model.SessionStatus][]model.SessionStatus

func (t TransitionTable) Allow(from, to model.SessionStatus) bool {
	if from == to {
		return true
	}
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// DeletedIsTerminal lets active and closed sessions move freely and never leaves deleted.
func DeletedIsTerminal() TransitionTable {
	return TransitionTable{
		model.SessionStatusActive: {model.SessionStatusClosed, model.SessionStatusDeleted},
		model.SessionStatusClosed: {model.SessionStatusActive, model.SessionStatusDeleted},
	}
}
