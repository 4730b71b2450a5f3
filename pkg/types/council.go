package types

import (
	"fmt"
	"time"
)

type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
	VotePause   VoteChoice = "pause"
)

func ParseVoteChoice(s string) (VoteChoice, error) {
	switch v := VoteChoice(s); v {
	case VoteApprove, VoteReject, VotePause:
		return v, nil
	default:
		return "", fmt.Errorf("unknown vote: %q", s)
	}
}

type CouncilVote struct {
	VoteID    string     `json:"vote_id"`
	Version   string     `json:"version"`
	Vote      VoteChoice `json:"vote"`
	Voter     string     `json:"voter,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
