package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to SignalStatus
		ok       bool
	}{
		{SignalReceived, SignalValidated, true},
		{SignalReceived, SignalFailed, true},
		{SignalReceived, SignalExecuted, false},
		{SignalValidated, SignalQueued, true},
		{SignalValidated, SignalSkipped, true},
		{SignalValidated, SignalExecuted, false},
		{SignalQueued, SignalExecuted, true},
		{SignalQueued, SignalFailed, true},
		{SignalQueued, SignalValidated, false},
		{SignalExecuted, SignalFailed, false},
		{SignalFailed, SignalQueued, false},
		{SignalSkipped, SignalExecuted, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransitionTo(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestSignalStatus_Terminal(t *testing.T) {
	assert.True(t, SignalExecuted.Terminal())
	assert.True(t, SignalFailed.Terminal())
	assert.True(t, SignalSkipped.Terminal())
	assert.False(t, SignalReceived.Terminal())
	assert.False(t, SignalValidated.Terminal())
	assert.False(t, SignalQueued.Terminal())
}

func TestDirection(t *testing.T) {
	assert.True(t, LongEntry.IsEntry())
	assert.True(t, ShortEntry.IsEntry())
	assert.True(t, LongExit.IsExit())
	assert.True(t, ShortExit.IsExit())
	assert.False(t, LongExit.IsEntry())
	assert.False(t, ShortEntry.IsExit())
	assert.True(t, ShortExit.Valid())
	assert.False(t, Direction("hold").Valid())
}

func TestExecutionKey(t *testing.T) {
	a := NewSignal("u1", "binance", "BTCUSDT", LongEntry)
	b := NewSignal("u1", "binance", "BTCUSDT", ShortExit)
	c := NewSignal("u2", "binance", "BTCUSDT", LongEntry)

	assert.Equal(t, a.ExecutionKey(), b.ExecutionKey())
	assert.NotEqual(t, a.ExecutionKey(), c.ExecutionKey())
	assert.NotEqual(t, a.ID, b.ID)
}
