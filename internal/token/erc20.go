package token

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"scenariomarket/internal/apperr"
	"scenariomarket/internal/logger"
)

const erc20ABI = `[
	{"name":"transfer","type":"function","inputs":[
		{"name":"to","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","inputs":[
		{"name":"from","type":"address"},
		{"name":"to","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[{"name":"","type":"bool"}]}
]`

const transferGasLimit = 100000

// ChainClient is the subset of ethclient.Client the ERC20 collaborator needs
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ERC20 settles stakes on chain. The custody key must hold an allowance from
// each bettor (transferFrom) and the token balance paid out (transfer).
type ERC20 struct {
	mu       sync.Mutex
	client   ChainClient
	contract common.Address
	key      *ecdsa.PrivateKey
	custody  common.Address
	abi      abi.ABI

	PollInterval time.Duration
	MaxPolls     int
}

// DialERC20 connects to rpcURL and returns a collaborator for the token at contract
func DialERC20(ctx context.Context, rpcURL, contract, custodyKeyHex string) (*ERC20, error) {
	if rpcURL == "" || contract == "" || custodyKeyHex == "" {
		return nil, fmt.Errorf("rpc_url, contract and custody_key are required")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	key, err := ParseKey(custodyKeyHex)
	if err != nil {
		client.Close()
		return nil, err
	}
	return NewERC20(client, common.HexToAddress(contract), key)
}

// NewERC20 builds the collaborator over an existing client
func NewERC20(client ChainClient, contract common.Address, key *ecdsa.PrivateKey) (*ERC20, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, err
	}
	return &ERC20{
		client:       client,
		contract:     contract,
		key:          key,
		custody:      crypto.PubkeyToAddress(key.PublicKey),
		abi:          parsed,
		PollInterval: 2 * time.Second,
		MaxPolls:     30,
	}, nil
}

// ParseKey decodes a hex private key with or without 0x prefix
func ParseKey(keyHex string) (*ecdsa.PrivateKey, error) {
	keyHex = strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	buf, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode custody key: %w", err)
	}
	key, err := crypto.ToECDSA(buf)
	if err != nil {
		return nil, fmt.Errorf("to ecdsa: %w", err)
	}
	return key, nil
}

// Custody returns the address holding staked funds
func (e *ERC20) Custody() common.Address {
	return e.custody
}

// Collect calls transferFrom(from, custody, amount)
func (e *ERC20) Collect(ctx context.Context, from common.Address, amount uint64) error {
	data, err := e.abi.Pack("transferFrom", from, e.custody, new(big.Int).SetUint64(amount))
	if err != nil {
		return fmt.Errorf("pack transferFrom: %w", err)
	}
	_, err = e.send(ctx, data)
	return err
}

// Disburse calls transfer(to, amount) from custody
func (e *ERC20) Disburse(ctx context.Context, to common.Address, amount uint64) error {
	data, err := e.abi.Pack("transfer", to, new(big.Int).SetUint64(amount))
	if err != nil {
		return fmt.Errorf("pack transfer: %w", err)
	}
	_, err = e.send(ctx, data)
	return err
}

// send signs, broadcasts and waits for the receipt. Sends are serialized so
// nonces never collide.
func (e *ERC20) send(ctx context.Context, data []byte) (common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	chainID, err := e.client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: chain id: %v", apperr.ErrTransferFailed, err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: gas price: %v", apperr.ErrTransferFailed, err)
	}
	nonce, err := e.client.PendingNonceAt(ctx, e.custody)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: pending nonce: %v", apperr.ErrTransferFailed, err)
	}

	contract := e.contract
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      transferGasLimit,
		To:       &contract,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), e.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: sign tx: %v", apperr.ErrTransferFailed, err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("%w: send tx: %v", apperr.ErrTransferFailed, err)
	}

	hash := signed.Hash()
	for i := 0; i < e.MaxPolls; i++ {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err != nil {
			select {
			case <-ctx.Done():
				return hash, fmt.Errorf("%w: waiting for %s: %v", apperr.ErrTransferFailed, hash.Hex(), ctx.Err())
			case <-time.After(e.PollInterval):
				continue
			}
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return hash, fmt.Errorf("%w: tx %s reverted", apperr.ErrTransferFailed, hash.Hex())
		}
		logger.Debug(e.custody.Hex(), "token_transfer_confirmed", fmt.Sprintf("tx=%s block=%s", hash.Hex(), receipt.BlockNumber))
		return hash, nil
	}
	return hash, fmt.Errorf("%w: timed out waiting for %s", apperr.ErrTransferFailed, hash.Hex())
}
