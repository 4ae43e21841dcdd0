package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bazelment/conductor/protocol"
)

func TestTracker_RecordAndTotal(t *testing.T) {
	tr := NewTracker()
	tr.Record(protocol.RoleBuilder, protocol.TierHigh, 1000, 500, 0, 0)
	tr.Record(protocol.RoleVerifier, protocol.TierLow, 200, 100, 0, 0)

	builder := tr.ForAgent(protocol.RoleBuilder)
	assert.Equal(t, int64(1000), builder.InputTokens)
	assert.Equal(t, int64(500), builder.OutputTokens)
	assert.InDelta(t, 1.5*TierPrice[protocol.TierHigh], builder.CostUSD, 1e-9)

	total := tr.Total()
	assert.Equal(t, int64(1200), total.InputTokens)
	assert.Equal(t, int64(600), total.OutputTokens)
}

func TestTracker_ResetClears(t *testing.T) {
	tr := NewTracker()
	tr.Record(protocol.RoleBuilder, protocol.TierMid, 100, 100, 0, 0)
	tr.Reset()
	assert.Equal(t, protocol.Usage{}, tr.Total())
}
