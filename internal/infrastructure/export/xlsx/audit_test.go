package xlsx

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/signflow/internal/core/domain"
)

func TestWriteAuditTrail(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	trail := &domain.AuditTrail{
		RequestID: "r1",
		Entries: []domain.AuditEntry{
			{Seq: 1, CreatedAt: at, Action: domain.AuditRequestCreated, ActorID: "alice", DocumentID: "d1", EntryHash: "sha256:01"},
			{Seq: 2, CreatedAt: at.Add(time.Second), Action: domain.AuditSignatureRecorded, ActorID: "bob", DocumentID: "d1",
				Details: domain.AuditDetails{SignerID: "bob"}, PrevHash: "sha256:01", EntryHash: "sha256:02"},
		},
		ChainValid: false,
		BrokenAt:   "e2",
	}

	var buf bytes.Buffer
	require.NoError(t, WriteAuditTrail(&buf, trail))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(auditSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Action", rows[0][2])
	assert.Equal(t, "signature_recorded", rows[2][2])
	assert.Contains(t, rows[2][5], `"signer_id":"bob"`)

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	assert.Equal(t, "broken at e2", summary[2][1])
}
