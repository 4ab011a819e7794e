package reputation

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// reputationABI mirrors a minimal on-chain mapping contract:
// getReputation(bytes32 peerIdHash) returns (uint256 scoreOutOf1000).
const reputationABI = `[{"constant":true,"inputs":[{"name":"peerIdHash","type":"bytes32"}],"name":"getReputation","outputs":[{"name":"score","type":"uint256"}],"stateMutability":"view","type":"function"}]`

// EthereumAnchor reads a peerId-hash -> reputation score mapping from
// an Ethereum contract via ethclient + an ABI-bound call, grounded on
// did/ethereum/client.go's EthereumClient.Resolve (CallContract +
// contractABI.Pack/UnpackIntoInterface) and did/ethereum/abi.go's
// embedded-ABI pattern -- generalized from "resolve a DID document"
// to "resolve a single uint256 reputation score."
type EthereumAnchor struct {
	client          *ethclient.Client
	contractAddress common.Address
	contractABI     abi.ABI
}

// NewEthereumAnchor dials rpcEndpoint and binds to the reputation
// contract at contractAddress.
func NewEthereumAnchor(rpcEndpoint, contractAddress string) (*EthereumAnchor, error) {
	client, err := ethclient.Dial(rpcEndpoint)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum node: %w", err)
	}
	parsedABI, err := abi.JSON(strings.NewReader(reputationABI))
	if err != nil {
		return nil, fmt.Errorf("parse reputation abi: %w", err)
	}
	return &EthereumAnchor{
		client:          client,
		contractAddress: common.HexToAddress(contractAddress),
		contractABI:     parsedABI,
	}, nil
}

// Lookup implements Anchor.
func (a *EthereumAnchor) Lookup(ctx context.Context, peerID string) (*PeerReputationRecord, error) {
	hash := sha256.Sum256([]byte(peerID))

	callData, err := a.contractABI.Pack("getReputation", hash)
	if err != nil {
		return nil, fmt.Errorf("pack getReputation call: %w", err)
	}

	output, err := a.client.CallContract(ctx, ethereum.CallMsg{
		To:   &a.contractAddress,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("call reputation contract: %w", err)
	}

	var result struct{ Score *big.Int }
	if err := a.contractABI.UnpackIntoInterface(&result, "getReputation", output); err != nil {
		return nil, fmt.Errorf("unpack reputation result: %w", err)
	}

	score := new(big.Float).Quo(new(big.Float).SetInt(result.Score), big.NewFloat(1000))
	scoreF, _ := score.Float64()
	return &PeerReputationRecord{PeerID: peerID, Score: scoreF}, nil
}
