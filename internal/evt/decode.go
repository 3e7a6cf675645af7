package evt

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// unpack decodes log's non-indexed Data into dst via contractABI, then
// parses its indexed topics into the same dst, following the two-step
// unmarshal go-tableland's eventfeed.go (parseEvent) is grounded on: Data
// carries non-indexed args, Topics[1:] carries indexed ones.
func unpack(contractABI abi.ABI, eventName string, l types.Log, dst interface{}) error {
	ev, ok := contractABI.Events[eventName]
	if !ok {
		return fmt.Errorf("evt: event %s not found in abi", eventName)
	}
	if len(l.Data) > 0 {
		if err := contractABI.UnpackIntoInterface(dst, eventName, l.Data); err != nil {
			return fmt.Errorf("evt: unpack data for %s: %w", eventName, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopics(dst, indexed, l.Topics[1:]); err != nil {
			return fmt.Errorf("evt: parse topics for %s: %w", eventName, err)
		}
	}
	return nil
}

func meta(l types.Log) LogMeta {
	return LogMeta{BlockNumber: l.BlockNumber, TxHash: l.TxHash, LogIndex: l.Index, Address: l.Address}
}

// DecodeFactoryLog decodes a raw log emitted by the factory contract into
// the matching Event variant. Returns (nil, nil) for an event signature
// the ABI doesn't recognize so the caller can log-and-skip (Decode error
// policy, spec.md §7) rather than abort the range.
func DecodeFactoryLog(l types.Log) (Event, error) {
	contractABI, err := FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("evt: load factory abi: %w", err)
	}
	if len(l.Topics) == 0 {
		return nil, fmt.Errorf("evt: log has no topics")
	}
	ed, err := contractABI.EventByID(l.Topics[0])
	if err != nil {
		return nil, nil
	}

	switch ed.Name {
	case "TokenCreated":
		var raw struct {
			Token     common.Address
			Creator   common.Address
			Name      string
			Symbol    string
			Timestamp *big.Int
		}
		if err := unpack(contractABI, ed.Name, l, &raw); err != nil {
			return nil, err
		}
		return TokenCreated{
			LogMeta: meta(l), Token: raw.Token, Creator: raw.Creator,
			Name: raw.Name, Symbol: raw.Symbol, Timestamp: raw.Timestamp.Uint64(),
		}, nil

	case "TokenPurchased":
		var raw struct {
			Token     common.Address
			Buyer     common.Address
			AmountIn  *big.Int
			AmountOut *big.Int
		}
		if err := unpack(contractABI, ed.Name, l, &raw); err != nil {
			return nil, err
		}
		return TokenPurchased{
			LogMeta: meta(l), Token: raw.Token, Buyer: raw.Buyer,
			AmountIn: raw.AmountIn, AmountOut: raw.AmountOut,
		}, nil

	case "TokenSold":
		var raw struct {
			Token     common.Address
			Seller    common.Address
			AmountIn  *big.Int
			AmountOut *big.Int
		}
		if err := unpack(contractABI, ed.Name, l, &raw); err != nil {
			return nil, err
		}
		return TokenSold{
			LogMeta: meta(l), Token: raw.Token, Seller: raw.Seller,
			AmountIn: raw.AmountIn, AmountOut: raw.AmountOut,
		}, nil

	case "TokenLaunched":
		var raw struct {
			Token          common.Address
			LiquidityAdded *big.Int
		}
		if err := unpack(contractABI, ed.Name, l, &raw); err != nil {
			return nil, err
		}
		return TokenLaunched{LogMeta: meta(l), Token: raw.Token, LiquidityAdded: raw.LiquidityAdded}, nil

	case "FeesWithdrawn":
		var raw struct {
			Recipient common.Address
			Amount    *big.Int
		}
		if err := unpack(contractABI, ed.Name, l, &raw); err != nil {
			return nil, err
		}
		return FeesWithdrawn{LogMeta: meta(l), Recipient: raw.Recipient, Amount: raw.Amount}, nil

	case "CreationFeeUpdated":
		var raw struct{ NewFee *big.Int }
		if err := unpack(contractABI, ed.Name, l, &raw); err != nil {
			return nil, err
		}
		return CreationFeeUpdated{LogMeta: meta(l), NewFee: raw.NewFee}, nil

	case "TradingFeeUpdated":
		var raw struct{ NewFeeBps *big.Int }
		if err := unpack(contractABI, ed.Name, l, &raw); err != nil {
			return nil, err
		}
		return TradingFeeUpdated{LogMeta: meta(l), NewFeeBps: raw.NewFeeBps}, nil

	default:
		return nil, nil
	}
}

// DecodeDexFactoryLog decodes PairCreated logs from the DEX factory.
func DecodeDexFactoryLog(l types.Log) (Event, error) {
	contractABI, err := DexFactoryABI()
	if err != nil {
		return nil, fmt.Errorf("evt: load dex factory abi: %w", err)
	}
	if len(l.Topics) == 0 {
		return nil, fmt.Errorf("evt: log has no topics")
	}
	ed, err := contractABI.EventByID(l.Topics[0])
	if err != nil || ed.Name != "PairCreated" {
		return nil, nil
	}

	var raw struct {
		Token0         common.Address
		Token1         common.Address
		Pair           common.Address
		AllPairsLength *big.Int
	}
	if err := unpack(contractABI, ed.Name, l, &raw); err != nil {
		return nil, err
	}
	return PairCreated{LogMeta: meta(l), Token0: raw.Token0, Token1: raw.Token1, Pair: raw.Pair}, nil
}

// DecodePairLog decodes Swap/Mint/Burn/Sync logs from a watched pair.
func DecodePairLog(l types.Log) (Event, error) {
	contractABI, err := PairABI()
	if err != nil {
		return nil, fmt.Errorf("evt: load pair abi: %w", err)
	}
	if len(l.Topics) == 0 {
		return nil, fmt.Errorf("evt: log has no topics")
	}
	ed, err := contractABI.EventByID(l.Topics[0])
	if err != nil {
		return nil, nil
	}

	switch ed.Name {
	case "Swap":
		var raw struct {
			Sender     common.Address
			Amount0In  *big.Int
			Amount1In  *big.Int
			Amount0Out *big.Int
			Amount1Out *big.Int
			To         common.Address
		}
		if err := unpack(contractABI, ed.Name, l, &raw); err != nil {
			return nil, err
		}
		return Swap{
			LogMeta: meta(l), Pair: l.Address, Sender: raw.Sender, To: raw.To,
			Amount0In: raw.Amount0In, Amount1In: raw.Amount1In,
			Amount0Out: raw.Amount0Out, Amount1Out: raw.Amount1Out,
		}, nil

	case "Mint":
		var raw struct {
			Sender  common.Address
			Amount0 *big.Int
			Amount1 *big.Int
		}
		if err := unpack(contractABI, ed.Name, l, &raw); err != nil {
			return nil, err
		}
		return Mint{LogMeta: meta(l), Pair: l.Address, Sender: raw.Sender, Amount0: raw.Amount0, Amount1: raw.Amount1}, nil

	case "Burn":
		var raw struct {
			Sender  common.Address
			Amount0 *big.Int
			Amount1 *big.Int
			To      common.Address
		}
		if err := unpack(contractABI, ed.Name, l, &raw); err != nil {
			return nil, err
		}
		return Burn{
			LogMeta: meta(l), Pair: l.Address, Sender: raw.Sender, To: raw.To,
			Amount0: raw.Amount0, Amount1: raw.Amount1,
		}, nil

	case "Sync":
		var raw struct {
			Reserve0 *big.Int
			Reserve1 *big.Int
		}
		if err := unpack(contractABI, ed.Name, l, &raw); err != nil {
			return nil, err
		}
		return Sync{LogMeta: meta(l), Pair: l.Address, Reserve0: raw.Reserve0, Reserve1: raw.Reserve1}, nil

	default:
		return nil, nil
	}
}

// DecodeTransferLog decodes a standard ERC-20 Transfer log.
func DecodeTransferLog(l types.Log) (Event, error) {
	contractABI, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("evt: load erc20 abi: %w", err)
	}
	if len(l.Topics) == 0 {
		return nil, fmt.Errorf("evt: log has no topics")
	}
	ed, err := contractABI.EventByID(l.Topics[0])
	if err != nil || ed.Name != "Transfer" {
		return nil, nil
	}

	var raw struct {
		From  common.Address
		To    common.Address
		Value *big.Int
	}
	if err := unpack(contractABI, ed.Name, l, &raw); err != nil {
		return nil, err
	}
	return Transfer{LogMeta: meta(l), Token: l.Address, From: raw.From, To: raw.To, Value: raw.Value}, nil
}

// TransferTopic returns the canonical Transfer(address,address,uint256)
// topic hash, used by monitors to build eth_getLogs topic filters without
// round-tripping through the ABI on every call.
func TransferTopic() (common.Hash, error) {
	contractABI, err := ERC20ABI()
	if err != nil {
		return common.Hash{}, err
	}
	return contractABI.Events["Transfer"].ID, nil
}
