package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFailureRecord(t *testing.T) {
	item := WorkItem{
		Locator:      Locator{Bucket: "files", Key: "a/b.txt"},
		RequeueCount: 2,
	}

	record := NewFailureRecord(item, FailureTransient, "connection refused")

	assert.NotEmpty(t, record.ID)
	assert.Equal(t, item.Locator, record.Item.Locator)
	assert.Equal(t, 2, record.RequeueCount, "requeue count must carry over from the item")
	assert.Equal(t, "connection refused", record.LastError)
	assert.False(t, record.FailedAt.IsZero())
	require.NoError(t, record.Validate())
}

func TestFailureClass_RequeueCap(t *testing.T) {
	assert.Equal(t, 3, FailureTransient.RequeueCap())
	assert.Equal(t, 0, FailurePermanent.RequeueCap())
	assert.Equal(t, 1, FailureUnknown.RequeueCap())
}

func TestFailureRecord_ExceededRequeueCap(t *testing.T) {
	tests := []struct {
		name  string
		class FailureClass
		count int
		want  bool
	}{
		{"transient under cap", FailureTransient, 2, false},
		{"transient at cap", FailureTransient, 3, true},
		{"permanent never requeues", FailurePermanent, 0, true},
		{"unknown gets one chance", FailureUnknown, 0, false},
		{"unknown at cap", FailureUnknown, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := NewFailureRecord(WorkItem{Locator: Locator{Bucket: "b", Key: "k"}}, tt.class, "boom")
			record.RequeueCount = tt.count
			assert.Equal(t, tt.want, record.ExceededRequeueCap())
		})
	}
}
