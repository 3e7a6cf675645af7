package evt

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Event signature JSON fragments, grounded on the standard bonding-curve
// factory / Uniswap-V2-shaped DEX ABIs spec.md §4.5/§4.6 name by event.
// Only the Events section is needed since these ABIs are decode-only.
const factoryABIJSON = `[
  {"type":"event","name":"TokenCreated","anonymous":false,"inputs":[
    {"name":"token","type":"address","indexed":true},
    {"name":"creator","type":"address","indexed":true},
    {"name":"name","type":"string","indexed":false},
    {"name":"symbol","type":"string","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"TokenPurchased","anonymous":false,"inputs":[
    {"name":"token","type":"address","indexed":true},
    {"name":"buyer","type":"address","indexed":true},
    {"name":"amountIn","type":"uint256","indexed":false},
    {"name":"amountOut","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"TokenSold","anonymous":false,"inputs":[
    {"name":"token","type":"address","indexed":true},
    {"name":"seller","type":"address","indexed":true},
    {"name":"amountIn","type":"uint256","indexed":false},
    {"name":"amountOut","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"TokenLaunched","anonymous":false,"inputs":[
    {"name":"token","type":"address","indexed":true},
    {"name":"liquidityAdded","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"FeesWithdrawn","anonymous":false,"inputs":[
    {"name":"recipient","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"CreationFeeUpdated","anonymous":false,"inputs":[
    {"name":"newFee","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"TradingFeeUpdated","anonymous":false,"inputs":[
    {"name":"newFeeBps","type":"uint256","indexed":false}
  ]}
]`

const dexFactoryABIJSON = `[
  {"type":"event","name":"PairCreated","anonymous":false,"inputs":[
    {"name":"token0","type":"address","indexed":true},
    {"name":"token1","type":"address","indexed":true},
    {"name":"pair","type":"address","indexed":false},
    {"name":"allPairsLength","type":"uint256","indexed":false}
  ]}
]`

const dexPairABIJSON = `[
  {"type":"event","name":"Swap","anonymous":false,"inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"amount0In","type":"uint256","indexed":false},
    {"name":"amount1In","type":"uint256","indexed":false},
    {"name":"amount0Out","type":"uint256","indexed":false},
    {"name":"amount1Out","type":"uint256","indexed":false},
    {"name":"to","type":"address","indexed":true}
  ]},
  {"type":"event","name":"Mint","anonymous":false,"inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"amount0","type":"uint256","indexed":false},
    {"name":"amount1","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"Burn","anonymous":false,"inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"amount0","type":"uint256","indexed":false},
    {"name":"amount1","type":"uint256","indexed":false},
    {"name":"to","type":"address","indexed":true}
  ]},
  {"type":"event","name":"Sync","anonymous":false,"inputs":[
    {"name":"reserve0","type":"uint112","indexed":false},
    {"name":"reserve1","type":"uint112","indexed":false}
  ]}
]`

const erc20ABIJSON = `[
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"value","type":"uint256","indexed":false}
  ]}
]`

var (
	once       sync.Once
	factoryABI abi.ABI
	dexFacABI  abi.ABI
	pairABI    abi.ABI
	erc20ABI   abi.ABI
	parseErr   error
)

func parseABIs() {
	var err error
	factoryABI, err = abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		parseErr = err
		return
	}
	dexFacABI, err = abi.JSON(strings.NewReader(dexFactoryABIJSON))
	if err != nil {
		parseErr = err
		return
	}
	pairABI, err = abi.JSON(strings.NewReader(dexPairABIJSON))
	if err != nil {
		parseErr = err
		return
	}
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		parseErr = err
		return
	}
}

// FactoryABI returns the parsed factory event ABI.
func FactoryABI() (abi.ABI, error) {
	once.Do(parseABIs)
	return factoryABI, parseErr
}

// DexFactoryABI returns the parsed DEX factory event ABI (PairCreated).
func DexFactoryABI() (abi.ABI, error) {
	once.Do(parseABIs)
	return dexFacABI, parseErr
}

// PairABI returns the parsed DEX pair event ABI (Swap/Mint/Burn/Sync).
func PairABI() (abi.ABI, error) {
	once.Do(parseABIs)
	return pairABI, parseErr
}

// ERC20ABI returns the parsed ERC-20 Transfer event ABI.
func ERC20ABI() (abi.ABI, error) {
	once.Do(parseABIs)
	return erc20ABI, parseErr
}
