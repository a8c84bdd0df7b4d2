package issuer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	legal := map[[2]Step]bool{
		{StepStart, StepWaitingForServerVersion}:                     true,
		{StepWaitingForServerVersion, StepWaitingForChannelInitiate}: true,
		{StepWaitingForChannelInitiate, StepConnectionOpen}:          true,
		{StepConnectionOpen, StepWaitingForPaymentAck}:               true,
		{StepWaitingForPaymentAck, StepPaymentDone}:                  true,
		{StepWaitingForPaymentAck, StepConnectionOpen}:               true,
		{StepPaymentDone, StepWaitingForPaymentAck}:                  true,
	}
	all := []Step{
		StepStart,
		StepWaitingForServerVersion,
		StepWaitingForChannelInitiate,
		StepConnectionOpen,
		StepWaitingForPaymentAck,
		StepPaymentDone,
		StepConnectionClosed,
	}
	for _, from := range all {
		for _, to := range all {
			want := legal[[2]Step{from, to}] || (to == StepConnectionClosed && from != StepConnectionClosed)
			assert.Equal(t, want, CanTransition(from, to), "%v -> %v", from, to)
		}
	}
}

func TestIncrementStatus(t *testing.T) {
	assert.Equal(t, StatusOK, incrementStatus(StepConnectionOpen))
	assert.Equal(t, StatusOK, incrementStatus(StepPaymentDone))
	assert.Equal(t, StatusChannelNotReady, incrementStatus(StepWaitingForPaymentAck))
	assert.Equal(t, StatusChannelNotReady, incrementStatus(StepStart))
	assert.Equal(t, StatusChannelNotReady, incrementStatus(StepWaitingForChannelInitiate))
	assert.Equal(t, StatusChannelClosed, incrementStatus(StepConnectionClosed))
}

func TestStep_text(t *testing.T) {
	text, err := StepWaitingForPaymentAck.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "WAITING_FOR_PAYMENT_ACK", string(text))

	var s Step
	require.NoError(t, s.UnmarshalText(text))
	assert.Equal(t, StepWaitingForPaymentAck, s)

	assert.Error(t, s.UnmarshalText([]byte("NOPE")))
	assert.Equal(t, "Step(42)", Step(42).String())
}
