package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkMessageRoundTrip(t *testing.T) {
	job := MarkJob{
		CellPath:    "attendance/2026/CS/BTech/2024/A/months/2026-9/subjects/Networks/attendance/101/12",
		NamePath:    "attendance/2026/CS/BTech/2024/A/months/2026-9/subjects/Networks/attendance/101/_name",
		StudentID:   "101",
		StudentName: "Asha",
		Status:      "Present",
	}
	msg, err := NewMarkMessage(job)
	require.NoError(t, err)
	assert.Equal(t, "mark", msg.Type)

	got, err := DecodeMarkJob(msg)
	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestSerializeRoundTrip(t *testing.T) {
	msg := Message{Type: "mark", Body: []byte(`{"studentId":"10|1"}`)}

	got, err := deserialize(serialize(msg))
	require.NoError(t, err)
	assert.Equal(t, msg.Type, got.Type)
	assert.Equal(t, msg.Body, got.Body, "only the first separator splits; the body may contain '|'")
}

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	msg, err := NewMarkMessage(MarkJob{StudentID: "101", Status: "Present"})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))

	out, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case got := <-out:
		assert.Equal(t, "mark", got.Type)
	case <-time.After(time.Second):
		t.Fatal("message never arrived")
	}
}

func TestInMemoryPublishRespectsCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Publish(ctx, Message{Type: "mark"}))

	cancel()
	err := q.Publish(ctx, Message{Type: "mark"})
	assert.ErrorIs(t, err, context.Canceled)
}
