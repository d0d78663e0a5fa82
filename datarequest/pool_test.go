package datarequest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/witnet/witnet-go/chain"
)

func pointer() chain.OutputPointer {
	return chain.OutputPointer{TransactionHash: chain.HashFromBytes([]byte("dr")), OutputIndex: 0}
}

func TestLifecycleCommitToReveal(t *testing.T) {
	p := New()
	ptr := pointer()
	p.AddDataRequest(ptr, chain.DataRequestOutput{}, 10, 5, 5, 2)

	witness1 := chain.PublicKeyHash{1}
	witness2 := chain.PublicKeyHash{2}
	require.NoError(t, p.AddCommit(ptr, CommitEntry{PKH: witness1}, 12))
	require.NoError(t, p.AddCommit(ptr, CommitEntry{PKH: witness2}, 13))

	advanced := p.UpdateDataRequestStages(16)
	require.Equal(t, []chain.OutputPointer{ptr}, advanced)

	st, ok := p.Get(ptr)
	require.True(t, ok)
	require.Equal(t, StageReveal, st.Stage)

	require.NoError(t, p.AddReveal(ptr, RevealEntry{PKH: witness1}))
	require.ErrorIs(t, p.AddReveal(ptr, RevealEntry{PKH: chain.PublicKeyHash{9}}), ErrUnmatchedReveal)
}

func TestInsufficientCommitsDoesNotAdvance(t *testing.T) {
	p := New()
	ptr := pointer()
	p.AddDataRequest(ptr, chain.DataRequestOutput{}, 0, 5, 5, 3)
	require.NoError(t, p.AddCommit(ptr, CommitEntry{PKH: chain.PublicKeyHash{1}}, 2))

	advanced := p.UpdateDataRequestStages(10)
	require.Empty(t, advanced)

	st, _ := p.Get(ptr)
	require.Equal(t, StageCommit, st.Stage)
}

func TestCommitAfterWindowCloses(t *testing.T) {
	p := New()
	ptr := pointer()
	p.AddDataRequest(ptr, chain.DataRequestOutput{}, 0, 5, 5, 1)
	require.ErrorIs(t, p.AddCommit(ptr, CommitEntry{PKH: chain.PublicKeyHash{1}}, 100), ErrCommitWindowClosed)
}

func TestTallyRetiresTheEntry(t *testing.T) {
	p := New()
	ptr := pointer()
	p.AddDataRequest(ptr, chain.DataRequestOutput{}, 0, 5, 5, 1)

	_, err := p.Tally(ptr)
	require.NoError(t, err)
	require.Equal(t, 0, p.Len())

	_, err = p.Tally(ptr)
	require.ErrorIs(t, err, ErrUnknownDataRequest)
}

func TestStashReveal(t *testing.T) {
	p := New()
	ptr := pointer()
	p.AddDataRequest(ptr, chain.DataRequestOutput{}, 0, 5, 5, 1)

	tx := chain.RevealTransaction{}
	require.NoError(t, p.StashReveal(ptr, tx))
	require.Len(t, p.TakeStashedReveals(ptr), 1)
	require.Empty(t, p.TakeStashedReveals(ptr))
}

func TestAddCommitRejectsDuplicateWitness(t *testing.T) {
	p := New()
	ptr := pointer()
	p.AddDataRequest(ptr, chain.DataRequestOutput{}, 0, 5, 5, 1)

	witness := chain.PublicKeyHash{1}
	require.NoError(t, p.AddCommit(ptr, CommitEntry{PKH: witness}, 1))
	require.ErrorIs(t, p.AddCommit(ptr, CommitEntry{PKH: witness}, 2), ErrDuplicateCommit)
}

func TestAddRevealBindsToCommitPosition(t *testing.T) {
	p := New()
	ptr := pointer()
	p.AddDataRequest(ptr, chain.DataRequestOutput{}, 0, 5, 5, 2)

	first := chain.PublicKeyHash{1}
	second := chain.PublicKeyHash{2}
	require.NoError(t, p.AddCommit(ptr, CommitEntry{PKH: first}, 1))
	require.NoError(t, p.AddCommit(ptr, CommitEntry{PKH: second}, 1))
	require.Len(t, p.UpdateDataRequestStages(10), 1)

	require.NoError(t, p.AddReveal(ptr, RevealEntry{PKH: second}))
	require.NoError(t, p.AddReveal(ptr, RevealEntry{PKH: first}))

	st, ok := p.Get(ptr)
	require.True(t, ok)
	require.Equal(t, uint32(1), st.Reveals[0].Position)
	require.Equal(t, uint32(0), st.Reveals[1].Position)

	// A second reveal for an already revealed slot cannot rebind it.
	require.ErrorIs(t, p.AddReveal(ptr, RevealEntry{PKH: first}), ErrDuplicateReveal)
}
