package token

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scenariomarket/internal/apperr"
)

var (
	custody = common.HexToAddress("0x000000000000000000000000000000000000c0de")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func TestVaultCollectAndDisburse(t *testing.T) {
	ctx := context.Background()
	v := NewVault(custody, map[common.Address]uint64{alice: 1_000})

	require.NoError(t, v.Collect(ctx, alice, 400))
	assert.Equal(t, uint64(600), v.Balance(alice))
	assert.Equal(t, uint64(400), v.Balance(custody))

	require.NoError(t, v.Disburse(ctx, alice, 150))
	assert.Equal(t, uint64(750), v.Balance(alice))
	assert.Equal(t, uint64(250), v.Balance(custody))
	assert.Equal(t, uint64(2), v.Version())
}

func TestVaultInsufficientBalance(t *testing.T) {
	v := NewVault(custody, nil)

	err := v.Collect(context.Background(), alice, 1)
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
	assert.Equal(t, apperr.KindExternalTransfer, apperr.KindOf(err))
	assert.Equal(t, uint64(0), v.Version())
}

func TestVaultFaucet(t *testing.T) {
	v := NewVault(custody, nil)
	v.Faucet(alice, 5)
	v.Faucet(alice, 5)
	assert.Equal(t, uint64(10), v.Balance(alice))
}

func TestVaultHonorsCancelledContext(t *testing.T) {
	v := NewVault(custody, map[common.Address]uint64{alice: 10})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := v.Collect(ctx, alice, 1)
	assert.ErrorIs(t, err, apperr.ErrTransferFailed)
	assert.Equal(t, uint64(10), v.Balance(alice))
}

type fakeChain struct {
	sent        []*types.Transaction
	status      uint64
	sendErr     error
	pendingPoll int
}

func (f *fakeChain) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

func (f *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.pendingPoll > 0 {
		f.pendingPoll--
		return nil, errors.New("not found")
	}
	return &types.Receipt{Status: f.status, BlockNumber: big.NewInt(7)}, nil
}

func newTestERC20(t *testing.T, chain *fakeChain) *ERC20 {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	e, err := NewERC20(chain, common.HexToAddress("0x00000000000000000000000000000000000e2c20"), key)
	require.NoError(t, err)
	e.PollInterval = time.Millisecond
	e.MaxPolls = 3
	return e
}

func TestERC20DisbursePacksTransfer(t *testing.T) {
	chain := &fakeChain{status: types.ReceiptStatusSuccessful, pendingPoll: 1}
	e := newTestERC20(t, chain)

	require.NoError(t, e.Disburse(context.Background(), alice, 165))
	require.Len(t, chain.sent, 1)

	data := chain.sent[0].Data()
	method := e.abi.Methods["transfer"]
	assert.Equal(t, method.ID, data[:4])

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, alice, args[0])
	assert.Equal(t, big.NewInt(165), args[1])
}

func TestERC20CollectPacksTransferFrom(t *testing.T) {
	chain := &fakeChain{status: types.ReceiptStatusSuccessful}
	e := newTestERC20(t, chain)

	require.NoError(t, e.Collect(context.Background(), alice, 42))

	data := chain.sent[0].Data()
	method := e.abi.Methods["transferFrom"]
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, alice, args[0])
	assert.Equal(t, e.Custody(), args[1])
	assert.Equal(t, big.NewInt(42), args[2])
}

func TestERC20RevertIsTransferFailure(t *testing.T) {
	chain := &fakeChain{status: types.ReceiptStatusFailed}
	e := newTestERC20(t, chain)

	err := e.Disburse(context.Background(), alice, 1)
	assert.ErrorIs(t, err, apperr.ErrTransferFailed)
}

func TestERC20ReceiptTimeout(t *testing.T) {
	chain := &fakeChain{status: types.ReceiptStatusSuccessful, pendingPoll: 10}
	e := newTestERC20(t, chain)

	err := e.Disburse(context.Background(), alice, 1)
	assert.ErrorIs(t, err, apperr.ErrTransferFailed)
}

func TestParseKeyAcceptsPrefix(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))

	parsed, err := ParseKey(hexKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(parsed.PublicKey))

	_, err = ParseKey("zz")
	assert.Error(t, err)
}
