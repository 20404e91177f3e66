package ethereum

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
)

// signedValue is Types.Wei / Types.Par as unpacked from a log
type signedValue struct {
	Sign  bool
	Value *big.Int
}

// String formats the value as a signed decimal integer
func (v signedValue) String() string {
	if v.Value == nil {
		return "0"
	}
	if !v.Sign && v.Value.Sign() != 0 {
		return "-" + v.Value.String()
	}
	return v.Value.String()
}

type balanceUpdate struct {
	DeltaWei signedValue
	NewPar   signedValue
}

type interestIndex struct {
	Borrow     *big.Int
	Supply     *big.Int
	LastUpdate uint32
}

type wrappedValue struct {
	Value *big.Int
}

// unpack reads the indexed and non-indexed fields of vLog by name
func (d *logDecoder) unpack(vLog types.Log) (map[string]interface{}, error) {
	var indexedArgs abi.Arguments
	for _, input := range d.event.Inputs {
		if input.Indexed {
			indexedArgs = append(indexedArgs, input)
		}
	}
	if len(vLog.Topics) != len(indexedArgs)+1 {
		return nil, fmt.Errorf("invalid %s log: expected %d topics, got %d", d.event.Name, len(indexedArgs)+1, len(vLog.Topics))
	}

	values := make(map[string]interface{}, len(d.event.Inputs))
	if err := d.event.Inputs.NonIndexed().UnpackIntoMap(values, vLog.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack %s data: %w", d.event.Name, err)
	}
	if err := abi.ParseTopicsIntoMap(values, indexedArgs, vLog.Topics[1:]); err != nil {
		return nil, fmt.Errorf("failed to parse %s topics: %w", d.event.Name, err)
	}

	return values, nil
}

// fieldReader reads typed fields of an unpacked log. The first failure is kept in err
// and later reads return zero values.
type fieldReader struct {
	event  string
	values map[string]interface{}
	err    error
}

func (r *fieldReader) fail(name string, format string, args ...interface{}) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s.%s: %s", domain.ErrInvalidEventParams, r.event, name, fmt.Sprintf(format, args...))
	}
}

func (r *fieldReader) field(name string) (interface{}, bool) {
	raw, ok := r.values[name]
	if !ok {
		r.fail(name, "missing")
	}
	return raw, ok
}

func (r *fieldReader) address(name string) string {
	raw, ok := r.field(name)
	if !ok {
		return ""
	}
	address, ok := raw.(common.Address)
	if !ok {
		r.fail(name, "not an address: %T", raw)
		return ""
	}
	return domain.NormalizeAddress(address.Hex())
}

func (r *fieldReader) uint(name string) *big.Int {
	raw, ok := r.field(name)
	if !ok {
		return new(big.Int)
	}
	value, ok := raw.(*big.Int)
	if !ok {
		r.fail(name, "not an integer: %T", raw)
		return new(big.Int)
	}
	return value
}

func (r *fieldReader) uint32(name string) uint32 {
	raw, ok := r.field(name)
	if !ok {
		return 0
	}
	value, ok := raw.(uint32)
	if !ok {
		r.fail(name, "not a uint32: %T", raw)
		return 0
	}
	return value
}

// marketID reads a uint256 market id, which the protocol keeps far below 2^64
func (r *fieldReader) marketID(name string) uint64 {
	value := r.uint(name)
	if !value.IsUint64() {
		r.fail(name, "market id %s out of range", value)
		return 0
	}
	return value.Uint64()
}

func (r *fieldReader) account(owner, number string) domain.AccountInfo {
	return domain.AccountInfo{
		Owner:  r.address(owner),
		Number: r.uint(number).String(),
	}
}

func (r *fieldReader) update(name string) domain.BalanceUpdate {
	var update balanceUpdate
	r.tuple(name, &update)
	return domain.BalanceUpdate{
		DeltaWei: update.DeltaWei.String(),
		NewPar:   update.NewPar.String(),
	}
}

func (r *fieldReader) index(name string) interestIndex {
	index := interestIndex{Borrow: new(big.Int), Supply: new(big.Int)}
	r.tuple(name, &index)
	return index
}

// value reads a single-value tuple (Decimal.D256, Monetary.Price, Monetary.Value)
func (r *fieldReader) value(name string) string {
	value := wrappedValue{Value: new(big.Int)}
	r.tuple(name, &value)
	return value.Value.String()
}

// tuple copies the anonymous struct abi unpacks a tuple into out, matching fields by name
func (r *fieldReader) tuple(name string, out interface{}) {
	raw, ok := r.field(name)
	if !ok {
		return
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			r.fail(name, "unexpected tuple layout: %v", recovered)
		}
	}()
	abi.ConvertType(raw, out)
}
