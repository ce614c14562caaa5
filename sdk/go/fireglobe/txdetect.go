package fireglobe

import (
	"regexp"
	"strings"
)

// Chain ids recognised by DetectTransaction.
const (
	ChainBaseSepolia = "84532"
	ChainBaseMainnet = "8453"
	ChainEthereum    = "1"
	ChainPolygon     = "137"
	ChainArbitrum    = "42161"
	ChainOptimism    = "10"
)

var txHashPattern = regexp.MustCompile(`0x[a-fA-F0-9]{64}`)

// chainKeywords is checked in order; the first keyword found in the
// lowercased text decides the chain. "base" alone defaults to the testnet.
var chainKeywords = []struct {
	keyword string
	chainID string
}{
	{"base-sepolia", ChainBaseSepolia},
	{"base sepolia", ChainBaseSepolia},
	{"base mainnet", ChainBaseMainnet},
	{"base", ChainBaseSepolia},
	{"ethereum mainnet", ChainEthereum},
	{"polygon", ChainPolygon},
	{"arbitrum", ChainArbitrum},
	{"optimism", ChainOptimism},
}

// DetectedTransaction is a transaction hash found in an agent reply.
type DetectedTransaction struct {
	TxHash  string
	ChainID string
}

// DetectTransaction scans text for a 32-byte hex transaction hash and infers
// the chain from keywords in the same text. The chain id is a best-effort
// hint; defaultChainID is used when no keyword matches. An empty
// defaultChainID means Base Sepolia.
func DetectTransaction(text, defaultChainID string) (DetectedTransaction, bool) {
	hash := txHashPattern.FindString(text)
	if hash == "" {
		return DetectedTransaction{}, false
	}
	return DetectedTransaction{TxHash: hash, ChainID: InferChainID(text, defaultChainID)}, true
}

// InferChainID maps chain keywords in text to a chain id.
func InferChainID(text, defaultChainID string) string {
	lower := strings.ToLower(text)
	for _, k := range chainKeywords {
		if strings.Contains(lower, k.keyword) {
			return k.chainID
		}
	}
	if defaultChainID == "" {
		return ChainBaseSepolia
	}
	return defaultChainID
}

// ChainName returns a display name for a chain id.
func ChainName(chainID string) string {
	switch chainID {
	case ChainBaseSepolia:
		return "base-sepolia"
	case ChainBaseMainnet:
		return "base-mainnet"
	case ChainEthereum:
		return "ethereum-mainnet"
	case ChainPolygon:
		return "polygon"
	case ChainArbitrum:
		return "arbitrum"
	case ChainOptimism:
		return "optimism"
	default:
		return "chain-" + chainID
	}
}
