package reputation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCombineScoresWithNoAnchor(t *testing.T) {
	assert.Equal(t, 0.5, CombineScores(0.5, nil))
}

func TestCombineScoresWeightsAnchorHigher(t *testing.T) {
	got := CombineScores(0.2, &PeerReputationRecord{PeerID: "p1", Score: 0.9})
	assert.InDelta(t, 0.7*0.9+0.3*0.2, got, 1e-9)
}
