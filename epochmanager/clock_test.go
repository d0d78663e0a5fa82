package epochmanager_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/epochmanager"
)

func TestEpochAtComputesFromCheckpointZero(t *testing.T) {
	clk := epochmanager.NewClock(1000, 10)

	e, err := clk.EpochAt(time.Unix(1025, 0))
	require.NoError(t, err)
	require.Equal(t, chain.Epoch(2), e)
}

func TestEpochAtRejectsTimestampBeforeZero(t *testing.T) {
	clk := epochmanager.NewClock(1000, 10)

	_, err := clk.EpochAt(time.Unix(500, 0))
	require.ErrorIs(t, err, epochmanager.ErrCheckpointZeroInFuture)
}

func TestEpochTimestampRoundTripsWithEpochAt(t *testing.T) {
	clk := epochmanager.NewClock(1000, 10)

	ts, err := clk.EpochTimestamp(5)
	require.NoError(t, err)
	require.Equal(t, int64(1050), ts.Unix())

	e, err := clk.EpochAt(ts)
	require.NoError(t, err)
	require.Equal(t, chain.Epoch(5), e)
}

func TestZeroPeriodCoercesToOne(t *testing.T) {
	clk := epochmanager.NewClock(0, 0)

	e, err := clk.EpochAt(time.Unix(3, 0))
	require.NoError(t, err)
	require.Equal(t, chain.Epoch(3), e)
}

func TestRegisterEpochNtfnReturnsEventChannel(t *testing.T) {
	clk := epochmanager.NewClock(0, 1)
	ev := clk.RegisterEpochNtfn(5)
	defer ev.Cancel()

	require.NotNil(t, ev.Epochs)
}
