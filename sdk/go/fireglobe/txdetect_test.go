package fireglobe

import (
	"strings"
	"testing"
)

func TestDetectTransaction(t *testing.T) {
	hash := "0x" + strings.Repeat("aB", 32)
	cases := []struct {
		name      string
		text      string
		wantOK    bool
		wantChain string
	}{
		{"no hash", "Your balance is 2 ETH", false, ""},
		{"short hash", "tx 0x1234", false, ""},
		{"base sepolia", "Sent on Base Sepolia: " + hash, true, ChainBaseSepolia},
		{"base-sepolia", "network base-sepolia tx " + hash, true, ChainBaseSepolia},
		{"base mainnet", "Confirmed on Base Mainnet " + hash, true, ChainBaseMainnet},
		{"bare base", "Done on base: " + hash, true, ChainBaseSepolia},
		{"polygon", "Polygon transfer " + hash, true, ChainPolygon},
		{"arbitrum", "Arbitrum " + hash, true, ChainArbitrum},
		{"optimism", "optimism " + hash, true, ChainOptimism},
		{"ethereum mainnet", "Ethereum mainnet " + hash, true, ChainEthereum},
		{"no keyword uses default", "tx: " + hash, true, "999"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := DetectTransaction(tc.text, "999")
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if got.TxHash != hash {
				t.Errorf("hash = %s", got.TxHash)
			}
			if got.ChainID != tc.wantChain {
				t.Errorf("chain = %s, want %s", got.ChainID, tc.wantChain)
			}
		})
	}
}

func TestDetectTransactionTakesFirstHash(t *testing.T) {
	first := "0x" + strings.Repeat("11", 32)
	second := "0x" + strings.Repeat("22", 32)
	got, ok := DetectTransaction(first+" then "+second, "")
	if !ok || got.TxHash != first {
		t.Fatalf("got %+v", got)
	}
	if got.ChainID != ChainBaseSepolia {
		t.Errorf("empty default should mean Base Sepolia, got %s", got.ChainID)
	}
}

func TestChainName(t *testing.T) {
	if ChainName(ChainBaseSepolia) != "base-sepolia" {
		t.Error("base sepolia name")
	}
	if ChainName("5") != "chain-5" {
		t.Error("unknown chain name")
	}
}
