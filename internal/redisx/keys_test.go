package redisx_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/MrJamesThe3rd/reloop/internal/ledger"
	"github.com/MrJamesThe3rd/reloop/internal/redisx"
)

func TestKeys(t *testing.T) {
	id := uuid.MustParse("7c4a2a3e-0000-4000-8000-000000000001")

	assert.Equal(t, "status:posting:7c4a2a3e-0000-4000-8000-000000000001", redisx.StatusKey(ledger.Ref{Kind: ledger.KindPosting, ID: id}))
	assert.Equal(t, "dedup:payment:ORD-1:settlement", redisx.DedupKey("payment", "ORD-1:settlement"))
}
