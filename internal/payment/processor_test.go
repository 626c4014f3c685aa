package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeProcessorApproves(t *testing.T) {
	p := NewFakeProcessor(0.1, 0)
	p.rand = func() float64 { return 0.5 }

	txn, err := p.Charge(context.Background(), Charge{OrderID: "o1", Amount: 10})
	require.NoError(t, err)
	assert.Regexp(t, `^txn_[0-9a-f]{16}$`, txn)
}

func TestFakeProcessorDeclines(t *testing.T) {
	p := NewFakeProcessor(0.1, 0)
	p.rand = func() float64 { return 0.05 }

	_, err := p.Charge(context.Background(), Charge{OrderID: "o1", Amount: 10})
	var declined *DeclinedError
	require.True(t, errors.As(err, &declined))
	assert.Equal(t, DeclineReason, declined.Reason)
}

func TestFakeProcessorRateBounds(t *testing.T) {
	never := NewFakeProcessor(0, 0)
	always := NewFakeProcessor(1, 0)
	for i := 0; i < 50; i++ {
		_, err := never.Charge(context.Background(), Charge{})
		assert.NoError(t, err)
		_, err = always.Charge(context.Background(), Charge{})
		assert.Error(t, err)
	}
}

func TestFakeProcessorHonoursContext(t *testing.T) {
	p := NewFakeProcessor(0, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Charge(ctx, Charge{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
