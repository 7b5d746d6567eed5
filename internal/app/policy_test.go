package app

import (
	"errors"
	"testing"
	"time"

	"github.com/dkeye/voicelink/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestBackoffPolicySchedule(t *testing.T) {
	p := DefaultPolicy()
	netErr := domain.NewError("connect", domain.ErrNetwork, errors.New("refused"))

	var delays []time.Duration
	for attempt := 1; ; attempt++ {
		action, d := p.OnFailure(attempt, netErr)
		if action == GiveUp {
			require.Equal(t, 4, attempt)
			break
		}
		delays = append(delays, d)
	}
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestBackoffPolicyTerminalClasses(t *testing.T) {
	p := DefaultPolicy()
	for _, kind := range []error{domain.ErrAuth, domain.ErrProtocol, domain.ErrDevice} {
		action, _ := p.OnFailure(1, domain.NewError("connect", kind, nil))
		require.Equal(t, GiveUp, action, kind.Error())
	}
	action, _ := p.OnFailure(1, errors.New("unclassified"))
	require.Equal(t, Retry, action)
}
