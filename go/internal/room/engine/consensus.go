package engine

import (
	"sort"

	"github.com/mcdev12/pointroom/go/internal/models"
)

// Summary is the derived tally over voters with a vote on the table. It is
// recomputed from the view, never stored.
type Summary struct {
	// Counts maps each cast value to its occurrence count.
	Counts map[string]int `json:"counts"`
	// TopPicks holds every value tied for the highest count, sorted. No
	// arbitrary tie-break.
	TopPicks []string `json:"top_picks"`
	// IsConsensus is true when all non-skip votes agree on one value.
	// Skip votes neither form nor block consensus.
	IsConsensus bool `json:"is_consensus"`
}

// Summarize tallies the votes of non-observer participants. Observers and
// voters without a vote are excluded.
func Summarize(participants []models.Participant) Summary {
	counts := make(map[string]int)
	consensusValue := ""
	consensus := false

	for i := range participants {
		p := &participants[i]
		if p.IsObserver || !p.HasVoted() {
			continue
		}
		vote := *p.Vote
		counts[vote]++

		if vote == models.VoteSkip {
			continue
		}
		switch {
		case !consensus && consensusValue == "":
			consensusValue = vote
			consensus = true
		case consensus && vote != consensusValue:
			consensus = false
		}
	}

	top := 0
	for _, n := range counts {
		if n > top {
			top = n
		}
	}
	var picks []string
	for v, n := range counts {
		if n == top {
			picks = append(picks, v)
		}
	}
	sort.Strings(picks)

	return Summary{
		Counts:      counts,
		TopPicks:    picks,
		IsConsensus: consensus,
	}
}

// Summary derives the tally for the view's roster.
func (v View) Summary() Summary {
	return Summarize(v.Participants)
}
