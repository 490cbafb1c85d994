package config

import "fmt"

// NativeCurrency describes the display metadata of a network's native token.
// Decimals is the shift between the base unit and the display unit.
type NativeCurrency struct {
	Name     string `toml:"Name" json:"name"`
	Symbol   string `toml:"Symbol" json:"symbol"`
	Decimals uint8  `toml:"Decimals" json:"decimals"`
}

// Network describes one deployment target an adapter can connect to.
type Network struct {
	Name           string         `toml:"Name" json:"name"`
	ChainID        uint64         `toml:"ChainID" json:"chainId"`
	RPCURL         string         `toml:"RPCURL" json:"rpcUrl"`
	ExplorerURL    string         `toml:"ExplorerURL" json:"explorerUrl"`
	NativeCurrency NativeCurrency `toml:"NativeCurrency" json:"nativeCurrency"`
}

var workCurrency = NativeCurrency{Name: "Work", Symbol: "WORK", Decimals: 18}

// Networks is the built-in deployment table.
var Networks = map[string]Network{
	"testnet": {
		Name:           "Workchain Testnet",
		ChainID:        44_787,
		RPCURL:         "https://rpc.testnet.workchain.dev",
		ExplorerURL:    "https://scan.testnet.workchain.dev",
		NativeCurrency: workCurrency,
	},
	"mainnet": {
		Name:           "Workchain Mainnet",
		ChainID:        42_220,
		RPCURL:         "https://rpc.workchain.dev",
		ExplorerURL:    "https://scan.workchain.dev",
		NativeCurrency: workCurrency,
	},
	"localhost": {
		Name:           "Localhost",
		ChainID:        31_337,
		RPCURL:         "http://127.0.0.1:8645",
		ExplorerURL:    "",
		NativeCurrency: workCurrency,
	},
}

// NetworkByName resolves a network entry.
func NetworkByName(name string) (Network, error) {
	network, ok := Networks[name]
	if !ok {
		return Network{}, fmt.Errorf("unknown network: %s", name)
	}
	return network, nil
}
