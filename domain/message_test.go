package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Status_Transitions(t *testing.T) {
	req := require.New(t)

	// Forward moves are legal, including the sent-to-read shortcut
	req.True(StatusSent.CanTransition(StatusDelivered))
	req.True(StatusSent.CanTransition(StatusRead))
	req.True(StatusDelivered.CanTransition(StatusRead))

	// Standing still and going back are not
	req.False(StatusSent.CanTransition(StatusSent))
	req.False(StatusDelivered.CanTransition(StatusDelivered))
	req.False(StatusDelivered.CanTransition(StatusSent))
	req.False(StatusRead.CanTransition(StatusDelivered))
	req.False(StatusRead.CanTransition(StatusSent))

	// Unknown statuses never transition
	req.False(DeliveryStatus("bogus").CanTransition(StatusRead))
	req.False(StatusSent.CanTransition(DeliveryStatus("bogus")))
}
