package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedDeliversToSubscriber(t *testing.T) {
	var f Feed
	ch := make(chan DriverEvent, 1)
	sub := f.Subscribe(ch)
	defer sub.Unsubscribe()

	n := f.Send(NewTransactionBroadcast("tx1", "0xhash", 137))
	assert.Equal(t, 1, n)

	select {
	case ev := <-ch:
		tb, ok := ev.(TransactionBroadcast)
		require.True(t, ok)
		assert.Equal(t, "tx1", tb.TxID)
		assert.Equal(t, int64(137), tb.ChainID)
		assert.WithinDuration(t, time.Now(), tb.CreateDate(), time.Second)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}

func TestFeedSendWithNoSubscribersReturnsZero(t *testing.T) {
	var f Feed
	assert.Equal(t, 0, f.Send(NewTransactionStuck("tx1", 137, StuckNoGas)))
}

func TestFeedFansOutToMultipleSubscribers(t *testing.T) {
	var f Feed
	chA := make(chan DriverEvent, 1)
	chB := make(chan DriverEvent, 1)
	subA := f.Subscribe(chA)
	subB := f.Subscribe(chB)
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()

	f.Send(NewTransferDone("t1", "tx1", "100"))

	for _, ch := range []chan DriverEvent{chA, chB} {
		select {
		case ev := <-ch:
			td, ok := ev.(TransferDone)
			require.True(t, ok)
			assert.Equal(t, "t1", td.TransferID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out delivery")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	var f Feed
	ch := make(chan DriverEvent, 1)
	sub := f.Subscribe(ch)
	sub.Unsubscribe()

	f.Send(NewWeb3RpcError(137, "https://rpc", "timeout"))

	select {
	case <-ch:
		t.Fatal("unsubscribed channel should not receive events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConstructorsPopulateFields(t *testing.T) {
	confirmed := NewTransactionConfirmed("tx1", "0xhash", 137, 100, 1)
	assert.Equal(t, uint64(100), confirmed.BlockNumber)
	assert.Equal(t, uint64(1), confirmed.ChainStatus)

	failed := NewTransferFailed("t1", "insufficient balance")
	assert.Equal(t, "insufficient balance", failed.Reason)

	allDown := NewAllEndpointsFailed(137)
	assert.Equal(t, int64(137), allDown.ChainID)
	assert.Equal(t, Web3RpcAllEndpointsFailed, allDown.Kind)
}

func TestTransactionStuckCarriesReason(t *testing.T) {
	noGas := NewTransactionStuck("tx1", 137, StuckNoGas)
	assert.Equal(t, StuckNoGas, noGas.Reason)

	noToken := NewTransactionStuck("tx1", 137, StuckNoToken)
	assert.Equal(t, StuckNoToken, noToken.Reason)
}

func TestCantSignCarriesReason(t *testing.T) {
	ev := NewCantSign("tx1", 137, CantSignAllowance, "keystore locked")
	assert.Equal(t, CantSignAllowance, ev.Reason)
	assert.Equal(t, "keystore locked", ev.Message)
}

func TestWeb3RpcMessageDiscriminatesKind(t *testing.T) {
	ok := NewWeb3RpcSuccess(137, "primary")
	assert.Equal(t, Web3RpcSuccess, ok.Kind)
	assert.Equal(t, "primary", ok.Endpoint)

	bad := NewWeb3RpcError(137, "primary", "timeout")
	assert.Equal(t, Web3RpcError, bad.Kind)
	assert.Equal(t, "timeout", bad.Message)
}

func TestApproveFinishedAndBalanceUpdateConstructors(t *testing.T) {
	approve := NewApproveFinished("tx1", 137, "0xa", "0xtoken", "0xmulti", true)
	assert.True(t, approve.Success)
	assert.Equal(t, "0xmulti", approve.Spender)

	token := "0xtoken"
	bal := NewBalanceUpdate(137, "0xa", &token, "1000")
	assert.Equal(t, "1000", bal.Balance)
	assert.Equal(t, &token, bal.Token)
}
