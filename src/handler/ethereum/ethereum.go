// Package ethereum implements the payout-only handler for ether and ERC20
// tokens. There is no loader: deposits never arrive on this chain, it is
// strictly a destination.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	coindomain "github.com/mnikzad/tokengate/src/coin/domain"
	"github.com/mnikzad/tokengate/src/handler/domain"
	"github.com/mnikzad/tokengate/src/logger"
	"github.com/shopspring/decimal"
)

const erc20ABI = `[
	{
		"constant": false,
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"type": "function"
	}
]`

// Errors
var (
	ErrMissingEnvVars    = errors.New("missing required environment variables")
	ErrConnectNetwork    = errors.New("failed to connect to network")
	ErrInvalidPrivateKey = errors.New("failed to parse private key")
	ErrParseABI          = errors.New("failed to parse ABI")
	ErrCreateTransactor  = errors.New("failed to create transactor")
	ErrSendTransaction   = errors.New("failed to send transaction")
	ErrMineTransaction   = errors.New("failed to mine transaction")
)

// Config holds Ethereum handler config
type Config struct {
	RPCURL     string
	PrivateKey string
	ChainID    *big.Int
}

type token struct {
	contract *bind.BoundContract
	address  common.Address
	decimals int32
	native   bool
}

var _ domain.Manager = (*Handler)(nil)

// Handler pays out on an EVM chain. Coins with a contract address are ERC20
// transfers; the one coin without is the chain's native currency.
type Handler struct {
	name       string
	log        *logger.Logger
	client     *ethclient.Client
	wallet     common.Address
	privateKey *ecdsa.PrivateKey
	chainID    *big.Int
	tokens     map[string]token
}

func NewHandler(ctx context.Context, name string, log *logger.Logger, cfg Config, coins []coindomain.Coin) (*Handler, error) {
	if cfg.RPCURL == "" || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("%w: ETH_RPC_URL or ETH_PRIVATE_KEY", ErrMissingEnvVars)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectNetwork, err)
	}

	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	wallet := crypto.PubkeyToAddress(privateKey.PublicKey)

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ERC20 ABI: %v", ErrParseABI, err)
	}

	h := &Handler{
		name:       name,
		log:        log,
		client:     client,
		wallet:     wallet,
		privateKey: privateKey,
		chainID:    cfg.ChainID,
		tokens:     map[string]token{},
	}
	for _, c := range coins {
		symbol := strings.ToUpper(c.Symbol)
		if c.ContractAddress == "" {
			h.tokens[symbol] = token{decimals: 18, native: true}
			continue
		}
		addr := common.HexToAddress(c.ContractAddress)
		contract := bind.NewBoundContract(addr, parsedABI, client, client, client)
		h.tokens[symbol] = token{
			contract: contract,
			address:  addr,
			decimals: tokenDecimals(contract, log, symbol),
		}
	}
	return h, nil
}

// tokenDecimals asks the contract; 18 when the call fails, which covers the
// vast majority of ERC20s anyway.
func tokenDecimals(contract *bind.BoundContract, log *logger.Logger, symbol string) int32 {
	var result []interface{}
	if err := contract.Call(nil, &result, "decimals"); err != nil || len(result) == 0 {
		log.Warnf("decimals() failed for %s, assuming 18: %v", symbol, err)
		return 18
	}
	if d, ok := result[0].(uint8); ok {
		return int32(d)
	}
	return 18
}

func (h *Handler) Close() { h.client.Close() }

func (h *Handler) WalletAddress() common.Address { return h.wallet }

func (h *Handler) Name() string { return h.name }

func (h *Handler) Coins() []string {
	out := make([]string, 0, len(h.tokens))
	for symbol := range h.tokens {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func (h *Handler) Provides() []string {
	return []string{domain.CapManager}
}

func (h *Handler) ValidateDestination(_ context.Context, coin, destination, _ string) error {
	if _, ok := h.tokens[strings.ToUpper(coin)]; !ok {
		return fmt.Errorf("handler %s does not service coin %s", h.name, coin)
	}
	if !common.IsHexAddress(destination) {
		return fmt.Errorf("%w: %q is not a hex address", domain.ErrAccountNotFound, destination)
	}
	return nil
}

func (h *Handler) Send(ctx context.Context, req domain.SendRequest) (*domain.SendResult, error) {
	if req.Issue {
		return nil, fmt.Errorf("%w: %s", domain.ErrIssueNotSupported, req.Coin)
	}
	symbol := strings.ToUpper(req.Coin)
	tok, ok := h.tokens[symbol]
	if !ok {
		return nil, fmt.Errorf("handler %s does not service coin %s", h.name, req.Coin)
	}
	if !common.IsHexAddress(req.Destination) {
		return nil, fmt.Errorf("%w: %q is not a hex address", domain.ErrAccountNotFound, req.Destination)
	}
	to := common.HexToAddress(req.Destination)
	units := req.Amount.Shift(tok.decimals).BigInt()

	var receipt *types.Receipt
	var err error
	if tok.native {
		receipt, err = h.sendNative(ctx, to, units)
	} else {
		receipt, err = h.sendToken(ctx, tok, to, units)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeadAPI, err)
	}

	fee := decimal.Zero
	if receipt.EffectiveGasPrice != nil {
		wei := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
		fee = decimal.NewFromBigInt(wei, -18)
	}
	return &domain.SendResult{
		TxID:       receipt.TxHash.Hex(),
		Coin:       symbol,
		Amount:     req.Amount,
		NetworkFee: fee,
	}, nil
}

func (h *Handler) sendNative(ctx context.Context, to common.Address, amountWei *big.Int) (*types.Receipt, error) {
	nonce, err := h.client.PendingNonceAt(ctx, h.wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrSendTransaction, err)
	}
	gasPrice, err := h.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gas price: %v", ErrSendTransaction, err)
	}

	tx := types.NewTransaction(nonce, to, amountWei, 21000, gasPrice, nil)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(h.chainID), h.privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", ErrSendTransaction, err)
	}
	if err := h.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendTransaction, err)
	}

	receipt, err := bind.WaitMined(ctx, h.client, signedTx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMineTransaction, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: transfer reverted", ErrMineTransaction)
	}
	return receipt, nil
}

func (h *Handler) sendToken(ctx context.Context, tok token, to common.Address, units *big.Int) (*types.Receipt, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(h.privateKey, h.chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateTransactor, err)
	}
	auth.Context = ctx

	tx, err := tok.contract.Transact(auth, "transfer", to, units)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendTransaction, err)
	}

	receipt, err := bind.WaitMined(ctx, h.client, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMineTransaction, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: transfer reverted", ErrMineTransaction)
	}
	return receipt, nil
}
