package services

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// Receipt is the observed outcome of a mined transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Succeeded   bool
}

// Chain is the wallet/chain collaborator the distribution core depends on.
//
// Approve and DistributePayroll return the transaction hash as soon as the
// transaction is signed. When signing succeeded but the broadcast failed they
// return both the hash and a *SendError: the transaction may still be mined.
// WaitForReceipt blocks until the transaction is mined or ctx ends, and returns
// a *TxDroppedError when the node refuses a transaction it does not know.
type Chain interface {
	Allowance(ctx context.Context, token Currency, owner, spender string) (*big.Int, error)
	BalanceOf(ctx context.Context, token Currency, owner string) (*big.Int, error)
	Paused(ctx context.Context) (bool, error)
	Approve(ctx context.Context, token Currency, spender string, amount *big.Int) (string, error)
	DistributePayroll(ctx context.Context, token Currency, lines []PaymentLine, tax *big.Int) (string, error)
	WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error)
}

// PayrollAdmin covers the owner-only and informational calls on the payroll contract.
type PayrollAdmin interface {
	Owner(ctx context.Context) (string, error)
	Paused(ctx context.Context) (bool, error)
	TokenAddress(ctx context.Context, token Currency) (string, error)
	Pause(ctx context.Context) (string, error)
	Unpause(ctx context.Context) (string, error)
	WithdrawTax(ctx context.Context, token Currency) (string, error)
}

// SendError is a signed transaction whose broadcast failed. The node may or may not
// have accepted it.
type SendError struct {
	Hash string
	Err  error
}

func (e *SendError) Error() string {
	return "broadcast of " + e.Hash + " failed: " + e.Err.Error()
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// TxDroppedError means the node has neither a receipt nor the transaction and
// refused to take it again. It will not be mined.
type TxDroppedError struct {
	Hash string
	Err  error
}

func (e *TxDroppedError) Error() string {
	return "transaction " + e.Hash + " dropped: " + e.Err.Error()
}

func (e *TxDroppedError) Unwrap() error {
	return e.Err
}

type BlockchainConfig struct {
	RPCURL          string
	ChainID         int64
	PayrollContract string
	Tokens          map[Currency]string
	PrivateKey      string
	PollInterval    time.Duration
}

// ethBackend is the part of an RPC client the service uses. *ethclient.Client and
// the simulated backend client both satisfy it.
type ethBackend interface {
	bind.ContractBackend
	ethereum.TransactionReader
	ethereum.ChainIDReader
}

const callTimeout = 10 * time.Second

var errNotMined = errors.New("transaction not mined yet")

type payrollPayment struct {
	Recipient common.Address
	Amount    *big.Int
}

// BlockchainService talks to the payroll and token contracts over JSON-RPC.
type BlockchainService struct {
	client         ethBackend
	closeClient    func()
	chainID        *big.Int
	payrollAddress common.Address
	payroll        *bind.BoundContract
	erc20ABI       abi.ABI
	key            *ecdsa.PrivateKey
	account        common.Address
	pollInterval   time.Duration

	// signed holds transactions this process signed, by hash, until a receipt is seen.
	signed sync.Map

	mu     sync.Mutex
	tokens map[Currency]common.Address
}

func NewBlockchainService(ctx context.Context, cfg BlockchainConfig) (*BlockchainService, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial rpc")
	}
	s, err := newBlockchainService(ctx, client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.closeClient = client.Close
	return s, nil
}

func newBlockchainService(ctx context.Context, client ethBackend, cfg BlockchainConfig) (*BlockchainService, error) {
	if !common.IsHexAddress(cfg.PayrollContract) {
		return nil, errors.Errorf("invalid payroll contract address %q", cfg.PayrollContract)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read chain id")
	}
	if chainID.Int64() != cfg.ChainID {
		return nil, errors.Errorf("wrong network: rpc reports chain %s, expected %d", chainID, cfg.ChainID)
	}

	payrollABI, err := abi.JSON(strings.NewReader(payrollABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse payroll abi")
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse erc20 abi")
	}

	s := &BlockchainService{
		client:         client,
		chainID:        chainID,
		payrollAddress: common.HexToAddress(cfg.PayrollContract),
		erc20ABI:       erc20ABI,
		pollInterval:   cfg.PollInterval,
		tokens:         make(map[Currency]common.Address),
	}
	s.payroll = bind.NewBoundContract(s.payrollAddress, payrollABI, client, client, client)
	if s.pollInterval <= 0 {
		s.pollInterval = 2 * time.Second
	}

	for currency, addr := range cfg.Tokens {
		if addr == "" {
			continue
		}
		if !common.IsHexAddress(addr) {
			return nil, errors.Errorf("invalid %s token address %q", currency, addr)
		}
		s.tokens[currency] = common.HexToAddress(addr)
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, errors.Wrap(err, "invalid wallet private key")
		}
		s.key = key
		s.account = crypto.PubkeyToAddress(key.PublicKey)
	}

	return s, nil
}

func (s *BlockchainService) Close() {
	if s.closeClient != nil {
		s.closeClient()
	}
}

// Account is the connected signing account, or "" when no key is configured.
func (s *BlockchainService) Account() string {
	if s.key == nil {
		return ""
	}
	return s.account.Hex()
}

// PayrollContract is the spender every allowance is granted to.
func (s *BlockchainService) PayrollContract() string {
	return s.payrollAddress.Hex()
}

func (s *BlockchainService) Allowance(ctx context.Context, token Currency, owner, spender string) (*big.Int, error) {
	contract, err := s.tokenContract(ctx, token)
	if err != nil {
		return nil, err
	}
	out, err := s.call(ctx, contract, "allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, err
	}
	return toBigInt(out[0])
}

func (s *BlockchainService) BalanceOf(ctx context.Context, token Currency, owner string) (*big.Int, error) {
	contract, err := s.tokenContract(ctx, token)
	if err != nil {
		return nil, err
	}
	out, err := s.call(ctx, contract, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	return toBigInt(out[0])
}

func (s *BlockchainService) Approve(ctx context.Context, token Currency, spender string, amount *big.Int) (string, error) {
	contract, err := s.tokenContract(ctx, token)
	if err != nil {
		return "", err
	}
	return s.transact(ctx, contract, "approve", common.HexToAddress(spender), amount)
}

func (s *BlockchainService) DistributePayroll(ctx context.Context, token Currency, lines []PaymentLine, tax *big.Int) (string, error) {
	method, err := distributeMethod(token)
	if err != nil {
		return "", err
	}
	return s.transact(ctx, s.payroll, method, toPayrollPayments(lines), tax)
}

func distributeMethod(token Currency) (string, error) {
	switch token {
	case CurrencyUSDC:
		return "distributePayrollUSDC", nil
	case CurrencyUSDT:
		return "distributePayrollUSDT", nil
	}
	return "", errors.Errorf("unsupported currency %q", token)
}

func toPayrollPayments(lines []PaymentLine) []payrollPayment {
	payments := make([]payrollPayment, 0, len(lines))
	for _, line := range lines {
		payments = append(payments, payrollPayment{
			Recipient: common.HexToAddress(line.Recipient),
			Amount:    line.Amount,
		})
	}
	return payments
}

// WaitForReceipt polls for the receipt with exponential backoff until it is mined
// or ctx ends. RPC errors while polling are treated as transient. A transaction
// this process signed is broadcast again if the node does not know it.
func (s *BlockchainService) WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var signed *ethtypes.Transaction
	if v, ok := s.signed.Load(strings.ToLower(txHash)); ok {
		signed = v.(*ethtypes.Transaction)
	}
	receipt, err := waitForReceipt(ctx, s.client, common.HexToHash(txHash), signed, s.pollInterval)
	if err == nil {
		s.signed.Delete(strings.ToLower(txHash))
	}
	return receipt, err
}

func waitForReceipt(ctx context.Context, client ethBackend, hash common.Hash, signed *ethtypes.Transaction, interval time.Duration) (*Receipt, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = 8 * interval

	rebroadcast := signed != nil
	return backoff.Retry(ctx, func() (*Receipt, error) {
		r, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receiptFromEth(r), nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, errors.Wrap(err, "failed to fetch receipt")
		}
		if !rebroadcast {
			return nil, errNotMined
		}

		_, _, err = client.TransactionByHash(ctx, hash)
		if !errors.Is(err, ethereum.NotFound) {
			return nil, errNotMined
		}
		rebroadcast = false
		if err := client.SendTransaction(ctx, signed); err != nil {
			if refusedByNode(err) {
				return nil, backoff.Permanent(&TxDroppedError{Hash: hash.Hex(), Err: err})
			}
			rebroadcast = true
		}
		return nil, errNotMined
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0))
}

// refusedByNode is true for JSON-RPC errors the node answered with, as opposed to
// transport failures where the outcome is unknown.
func refusedByNode(err error) bool {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	return !strings.Contains(strings.ToLower(err.Error()), "already known")
}

func receiptFromEth(r *ethtypes.Receipt) *Receipt {
	receipt := &Receipt{
		TxHash:    r.TxHash.Hex(),
		Succeeded: r.Status == ethtypes.ReceiptStatusSuccessful,
	}
	if r.BlockNumber != nil {
		receipt.BlockNumber = r.BlockNumber.Uint64()
	}
	return receipt
}

func (s *BlockchainService) Owner(ctx context.Context) (string, error) {
	out, err := s.call(ctx, s.payroll, "owner")
	if err != nil {
		return "", err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return "", errors.Errorf("unexpected owner() result %T", out[0])
	}
	return addr.Hex(), nil
}

func (s *BlockchainService) Paused(ctx context.Context) (bool, error) {
	out, err := s.call(ctx, s.payroll, "paused")
	if err != nil {
		return false, err
	}
	paused, ok := out[0].(bool)
	if !ok {
		return false, errors.Errorf("unexpected paused() result %T", out[0])
	}
	return paused, nil
}

// TokenAddress returns the configured token address, falling back to the
// payroll contract's USDC()/USDT() getters.
func (s *BlockchainService) TokenAddress(ctx context.Context, token Currency) (string, error) {
	addr, err := s.tokenAddress(ctx, token)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}

func (s *BlockchainService) Pause(ctx context.Context) (string, error) {
	return s.transact(ctx, s.payroll, "pause")
}

func (s *BlockchainService) Unpause(ctx context.Context) (string, error) {
	return s.transact(ctx, s.payroll, "unpause")
}

func (s *BlockchainService) WithdrawTax(ctx context.Context, token Currency) (string, error) {
	addr, err := s.tokenAddress(ctx, token)
	if err != nil {
		return "", err
	}
	return s.transact(ctx, s.payroll, "withdrawTax", addr)
}

func (s *BlockchainService) tokenAddress(ctx context.Context, token Currency) (common.Address, error) {
	s.mu.Lock()
	addr, ok := s.tokens[token]
	s.mu.Unlock()
	if ok {
		return addr, nil
	}

	switch token {
	case CurrencyUSDC, CurrencyUSDT:
	default:
		return common.Address{}, errors.Errorf("unsupported currency %q", token)
	}
	out, err := s.call(ctx, s.payroll, string(token))
	if err != nil {
		return common.Address{}, err
	}
	addr, ok = out[0].(common.Address)
	if !ok {
		return common.Address{}, errors.Errorf("unexpected %s() result %T", token, out[0])
	}

	s.mu.Lock()
	s.tokens[token] = addr
	s.mu.Unlock()
	return addr, nil
}

func (s *BlockchainService) tokenContract(ctx context.Context, token Currency) (*bind.BoundContract, error) {
	addr, err := s.tokenAddress(ctx, token)
	if err != nil {
		return nil, err
	}
	return bind.NewBoundContract(addr, s.erc20ABI, s.client, s.client, s.client), nil
}

func (s *BlockchainService) call(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) ([]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, errors.Wrapf(err, "failed to call %s", method)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("%s returned no values", method)
	}
	return out, nil
}

// transact signs first and broadcasts second, so the hash is known before anything
// reaches the network. A failed broadcast returns the hash with a *SendError.
func (s *BlockchainService) transact(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) (string, error) {
	if s.key == nil {
		return "", errors.New("no signing key configured")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return "", errors.Wrap(err, "failed to create transactor")
	}
	opts.Context = ctx
	opts.NoSend = true

	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		return "", errors.Wrapf(err, "failed to sign %s", method)
	}
	hash := tx.Hash().Hex()
	s.signed.Store(strings.ToLower(hash), tx)

	if err := s.client.SendTransaction(ctx, tx); err != nil {
		return hash, &SendError{Hash: hash, Err: errors.Wrapf(err, "failed to send %s", method)}
	}
	return hash, nil
}

func toBigInt(v interface{}) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return nil, errors.Errorf("unexpected uint256 result %T", v)
	}
	return n, nil
}
