package natsqueue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesearch/internal/domain/entity"
)

func TestAdvisorySubject(t *testing.T) {
	assert.Equal(t,
		"$JS.EVENT.ADVISORY.CONSUMER.MAX_DELIVERIES.FILEINDEX.fileindex-worker",
		advisorySubject("FILEINDEX", "fileindex-worker"))
}

func TestExhaustionRecord(t *testing.T) {
	item := entity.WorkItem{
		Locator: entity.Locator{Bucket: "files", Key: "documents/legal/nas01/c/deal.pdf"},
	}
	payload, err := json.Marshal(item)
	require.NoError(t, err)

	adv := maxDeliverAdvisory{
		Stream:     "FILEINDEX",
		Consumer:   "fileindex-worker",
		StreamSeq:  42,
		Deliveries: 4,
	}

	record, err := exhaustionRecord(adv, payload)

	require.NoError(t, err)
	assert.Equal(t, entity.FailureUnknown, record.Classification,
		"every attempt died before reporting a cause")
	assert.Equal(t, item.Locator, record.Item.Locator)
	assert.Equal(t, "FILEINDEX:42", record.OriginalMessageID)
	assert.Contains(t, record.LastError, "4 attempts")
	assert.NoError(t, record.Validate())
}

func TestExhaustionRecord_UndecodablePayload(t *testing.T) {
	_, err := exhaustionRecord(maxDeliverAdvisory{Stream: "FILEINDEX", StreamSeq: 7}, []byte("not json"))
	require.Error(t, err)
}
