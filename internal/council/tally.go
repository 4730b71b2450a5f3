package council

import "github.com/davidahmann/steward/pkg/types"

// Tally is the exact vote count for one policy version. No tie is broken
// and no outcome is inferred.
type Tally struct {
	Version string `json:"version"`
	Approve int    `json:"approve"`
	Reject  int    `json:"reject"`
	Pause   int    `json:"pause"`
	Total   int    `json:"total"`
}

// Summarize counts the votes cast for version. Votes for other versions and
// unknown choices are ignored.
func Summarize(version string, votes []types.CouncilVote) Tally {
	t := Tally{Version: version}
	for _, v := range votes {
		if v.Version != version {
			continue
		}
		switch v.Vote {
		case types.VoteApprove:
			t.Approve++
		case types.VoteReject:
			t.Reject++
		case types.VotePause:
			t.Pause++
		default:
			continue
		}
		t.Total++
	}
	return t
}
