// Package scval converts Soroban contract values between their XDR wire form
// and a small tagged variant that the rest of the code can validate before use.
package scval

import (
	"encoding/hex"
	"math/big"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindRaw Kind = iota
	KindVoid
	KindBool
	KindU32
	KindI32
	KindU64
	KindI64
	KindU128
	KindI128
	KindSymbol
	KindString
	KindBytes
	KindAddress
	KindVec
	KindMap
)

var kindNames = map[Kind]string{
	KindRaw:     "raw",
	KindVoid:    "void",
	KindBool:    "bool",
	KindU32:     "u32",
	KindI32:     "i32",
	KindU64:     "u64",
	KindI64:     "i64",
	KindU128:    "u128",
	KindI128:    "i128",
	KindSymbol:  "symbol",
	KindString:  "string",
	KindBytes:   "bytes",
	KindAddress: "address",
	KindVec:     "vec",
	KindMap:     "map",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// MapEntry is one key/value pair of a KindMap value.
type MapEntry struct {
	Key Value
	Val Value
}

// Value is a decoded contract value. Only the fields matching Kind are set:
// integers use Int, symbols/strings/addresses/raw use Str.
type Value struct {
	Kind    Kind
	Bool    bool
	Int     *big.Int
	Str     string
	Bytes   []byte
	Items   []Value
	Entries []MapEntry
}

// Raw wraps an undecodable encoded value.
func Raw(encoded string) Value {
	return Value{Kind: KindRaw, Str: encoded}
}

// IsInteger reports whether the value holds any integer width.
func (v Value) IsInteger() bool {
	switch v.Kind {
	case KindU32, KindI32, KindU64, KindI64, KindU128, KindI128:
		return v.Int != nil
	}
	return false
}

// AsSymbol returns the symbol text.
func (v Value) AsSymbol() (string, bool) {
	if v.Kind != KindSymbol {
		return "", false
	}
	return v.Str, true
}

// AsAddress returns the strkey form of an address value.
func (v Value) AsAddress() (string, bool) {
	if v.Kind != KindAddress {
		return "", false
	}
	return v.Str, true
}

// AsInt returns a copy of an integer value of any width.
func (v Value) AsInt() (*big.Int, bool) {
	if !v.IsInteger() {
		return nil, false
	}
	return new(big.Int).Set(v.Int), true
}

// AsU32 returns a u32 value.
func (v Value) AsU32() (uint32, bool) {
	if v.Kind != KindU32 || v.Int == nil || !v.Int.IsUint64() {
		return 0, false
	}
	n := v.Int.Uint64()
	if n > uint64(^uint32(0)) {
		return 0, false
	}
	return uint32(n), true
}

// Native renders the value as plain Go data suitable for logs and JSON.
// Integers become decimal strings so 128-bit values survive encoding.
func (v Value) Native() any {
	switch v.Kind {
	case KindVoid:
		return nil
	case KindBool:
		return v.Bool
	case KindU32, KindI32, KindU64, KindI64, KindU128, KindI128:
		if v.Int == nil {
			return nil
		}
		return v.Int.String()
	case KindBytes:
		return hex.EncodeToString(v.Bytes)
	case KindVec:
		out := make([]any, 0, len(v.Items))
		for _, it := range v.Items {
			out = append(out, it.Native())
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.Entries))
		for _, e := range v.Entries {
			out[keyString(e.Key)] = e.Val.Native()
		}
		return out
	default:
		return v.Str
	}
}

func keyString(v Value) string {
	switch n := v.Native().(type) {
	case string:
		return n
	case bool:
		return strconv.FormatBool(n)
	case nil:
		return ""
	default:
		return v.Kind.String()
	}
}
