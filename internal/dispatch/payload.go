package dispatch

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// encodePayload serializes decoded ABI arguments positionally, keyed
// by declaration index. Big integers become decimal strings so no
// precision is lost in JSON; addresses and byte blobs become 0x hex.
func encodePayload(args []interface{}) ([]byte, error) {
	out := make(map[string]interface{}, len(args))
	for i, arg := range args {
		v, err := encodeArg(arg)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out[fmt.Sprintf("%d", i)] = v
	}
	return json.Marshal(out)
}

func encodeArg(arg interface{}) (interface{}, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case *big.Int:
		if v == nil {
			return nil, nil
		}
		return v.String(), nil
	case common.Address:
		return v.Hex(), nil
	case common.Hash:
		return v.Hex(), nil
	case [32]byte:
		return hexutil.Encode(v[:]), nil
	case [4]byte:
		return hexutil.Encode(v[:]), nil
	case []byte:
		return hexutil.Encode(v), nil
	case bool, string:
		return v, nil
	case uint8, uint16, uint32, uint64, int8, int16, int32, int64, int:
		return v, nil
	}

	// Slices, arrays and anonymous tuple structs produced by the ABI
	// decoder are walked reflectively.
	rv := reflect.ValueOf(arg)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			v, err := encodeArg(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case reflect.Struct:
		rt := rv.Type()
		out := make(map[string]interface{}, rt.NumField())
		for i := 0; i < rt.NumField(); i++ {
			if !rv.Field(i).CanInterface() {
				continue
			}
			v, err := encodeArg(rv.Field(i).Interface())
			if err != nil {
				return nil, err
			}
			out[rt.Field(i).Name] = v
		}
		return out, nil
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return encodeArg(rv.Elem().Interface())
	}
	return nil, fmt.Errorf("unsupported argument type %T", arg)
}
