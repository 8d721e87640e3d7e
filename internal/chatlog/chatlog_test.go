package chatlog_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"groupwatch/internal/chatlog"
)

func TestEntriesSortedByTime(t *testing.T) {
	log := chatlog.New()
	base := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	// Appended out of order, as the transport may deliver them.
	log.Append(chatlog.Entry{Message: "third", Time: base.Add(5 * time.Second)})
	log.Append(chatlog.Entry{Message: "first", Time: base.Add(1 * time.Second)})
	log.Append(chatlog.Entry{Message: "second", Time: base.Add(3 * time.Second)})

	entries := log.Entries()
	assert.Len(t, entries, 3)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, "second", entries[1].Message)
	assert.Equal(t, "third", entries[2].Message)
}

func TestAppendAssignsTime(t *testing.T) {
	log := chatlog.New()
	log.Append(chatlog.Entry{Message: "hey", Username: "alice", Self: true})

	entries := log.Entries()
	assert.Len(t, entries, 1)
	assert.False(t, entries[0].Time.IsZero())
	assert.True(t, entries[0].Self)
}

func TestEntriesReturnsCopy(t *testing.T) {
	log := chatlog.New()
	log.Append(chatlog.Entry{Message: "a"})

	entries := log.Entries()
	entries[0].Message = "mutated"
	assert.Equal(t, "a", log.Entries()[0].Message)
}

func TestClear(t *testing.T) {
	log := chatlog.New()
	log.Append(chatlog.Entry{Message: "a"})
	log.Append(chatlog.Entry{Message: "b"})
	assert.Equal(t, 2, log.Len())

	log.Clear()
	assert.Equal(t, 0, log.Len())
	assert.Empty(t, log.Entries())
}
