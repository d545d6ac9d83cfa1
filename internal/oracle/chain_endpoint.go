package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const feedRegistryABIJSON = `[{"inputs":[{"internalType":"bytes21","name":"_feedId","type":"bytes21"}],"name":"getFeedById","outputs":[{"internalType":"uint256","name":"","type":"uint256"},{"internalType":"int8","name":"","type":"int8"},{"internalType":"uint64","name":"","type":"uint64"}],"stateMutability":"view","type":"function"}]`

var feedRegistryABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(feedRegistryABIJSON))
	if err != nil {
		panic("failed to parse feed registry ABI: " + err.Error())
	}
	feedRegistryABI = parsed
}

// ChainEndpointOptions parameterise an on-chain feed endpoint.
type ChainEndpointOptions struct {
	RPCURL          string
	RegistryAddress string
	Timeout         time.Duration
}

// ChainEndpoint reads FTSO-style price feeds from a feed registry contract
// over Ethereum RPC.
type ChainEndpoint struct {
	opts      ChainEndpointOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChainEndpoint builds an on-chain feed endpoint.
func NewChainEndpoint(opts ChainEndpointOptions, logger zerolog.Logger) *ChainEndpoint {
	return &ChainEndpoint{opts: opts, logger: logger.With().Str("component", "chain_endpoint").Str("rpc", opts.RPCURL).Logger()}
}

// Name identifies the endpoint by its RPC URL.
func (c *ChainEndpoint) Name() string { return c.opts.RPCURL }

// Fetch reads the feed and rescales the raw value to 18 decimals.
func (c *ChainEndpoint) Fetch(ctx context.Context, feedID string) (decimal.Decimal, time.Time, error) {
	if c.opts.RPCURL == "" {
		return decimal.Decimal{}, time.Time{}, errors.New("rpc url not configured")
	}
	if c.opts.RegistryAddress == "" {
		return decimal.Decimal{}, time.Time{}, errors.New("feed registry address not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	raw := common.FromHex(feedID)
	if len(raw) > 21 {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("feed id longer than 21 bytes: %s", feedID)
	}
	var id [21]byte
	copy(id[:], raw)

	payload, err := feedRegistryABI.Pack("getFeedById", id)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	addr := common.HexToAddress(c.opts.RegistryAddress)
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	outputs, err := feedRegistryABI.Unpack("getFeedById", res)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	if len(outputs) != 3 {
		return decimal.Decimal{}, time.Time{}, errors.New("unexpected getFeedById response")
	}

	value, ok := outputs[0].(*big.Int)
	if !ok {
		return decimal.Decimal{}, time.Time{}, errors.New("failed to decode feed value")
	}
	feedDecimals, ok := outputs[1].(int8)
	if !ok {
		return decimal.Decimal{}, time.Time{}, errors.New("failed to decode feed decimals")
	}
	updated, ok := outputs[2].(uint64)
	if !ok {
		return decimal.Decimal{}, time.Time{}, errors.New("failed to decode feed timestamp")
	}

	price := decimal.NewFromBigInt(value, -int32(feedDecimals))
	return price, time.Unix(int64(updated), 0).UTC(), nil
}

// Ping checks reachability by requesting the head block number.
func (c *ChainEndpoint) Ping(ctx context.Context) error {
	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.BlockNumber(ctx)
	return err
}

func (c *ChainEndpoint) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ Endpoint = (*ChainEndpoint)(nil)
