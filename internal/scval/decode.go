package scval

import (
	"fmt"
	"math/big"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// DecodeBase64 decodes a base64 XDR ScVal. Values that cannot be decoded are
// returned as KindRaw carrying the original encoded text.
func DecodeBase64(encoded string) Value {
	var sv xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(encoded, &sv); err != nil {
		return Raw(encoded)
	}
	v, err := Decode(sv)
	if err != nil {
		return Raw(encoded)
	}
	return v
}

// Decode converts an XDR ScVal into a Value.
func Decode(sv xdr.ScVal) (Value, error) {
	switch sv.Type {
	case xdr.ScValTypeScvVoid:
		return Value{Kind: KindVoid}, nil
	case xdr.ScValTypeScvBool:
		b, _ := sv.GetB()
		return Value{Kind: KindBool, Bool: b}, nil
	case xdr.ScValTypeScvU32:
		n, _ := sv.GetU32()
		return Value{Kind: KindU32, Int: new(big.Int).SetUint64(uint64(n))}, nil
	case xdr.ScValTypeScvI32:
		n, _ := sv.GetI32()
		return Value{Kind: KindI32, Int: big.NewInt(int64(n))}, nil
	case xdr.ScValTypeScvU64:
		n, _ := sv.GetU64()
		return Value{Kind: KindU64, Int: new(big.Int).SetUint64(uint64(n))}, nil
	case xdr.ScValTypeScvI64:
		n, _ := sv.GetI64()
		return Value{Kind: KindI64, Int: big.NewInt(int64(n))}, nil
	case xdr.ScValTypeScvTimepoint:
		n, _ := sv.GetTimepoint()
		return Value{Kind: KindU64, Int: new(big.Int).SetUint64(uint64(n))}, nil
	case xdr.ScValTypeScvDuration:
		n, _ := sv.GetDuration()
		return Value{Kind: KindU64, Int: new(big.Int).SetUint64(uint64(n))}, nil
	case xdr.ScValTypeScvU128:
		p, _ := sv.GetU128()
		return Value{Kind: KindU128, Int: joinU128(uint64(p.Hi), uint64(p.Lo))}, nil
	case xdr.ScValTypeScvI128:
		p, _ := sv.GetI128()
		return Value{Kind: KindI128, Int: joinI128(int64(p.Hi), uint64(p.Lo))}, nil
	case xdr.ScValTypeScvSymbol:
		s, _ := sv.GetSym()
		return Value{Kind: KindSymbol, Str: string(s)}, nil
	case xdr.ScValTypeScvString:
		s, _ := sv.GetStr()
		return Value{Kind: KindString, Str: string(s)}, nil
	case xdr.ScValTypeScvBytes:
		b, _ := sv.GetBytes()
		return Value{Kind: KindBytes, Bytes: append([]byte(nil), b...)}, nil
	case xdr.ScValTypeScvAddress:
		a, _ := sv.GetAddress()
		s, err := addressString(a)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindAddress, Str: s}, nil
	case xdr.ScValTypeScvVec:
		vec, ok := sv.GetVec()
		out := Value{Kind: KindVec}
		if !ok || vec == nil {
			return out, nil
		}
		for _, item := range *vec {
			v, err := Decode(item)
			if err != nil {
				return Value{}, fmt.Errorf("vec item: %w", err)
			}
			out.Items = append(out.Items, v)
		}
		return out, nil
	case xdr.ScValTypeScvMap:
		m, ok := sv.GetMap()
		out := Value{Kind: KindMap}
		if !ok || m == nil {
			return out, nil
		}
		for _, entry := range *m {
			k, err := Decode(entry.Key)
			if err != nil {
				return Value{}, fmt.Errorf("map key: %w", err)
			}
			v, err := Decode(entry.Val)
			if err != nil {
				return Value{}, fmt.Errorf("map value: %w", err)
			}
			out.Entries = append(out.Entries, MapEntry{Key: k, Val: v})
		}
		return out, nil
	default:
		return Value{}, fmt.Errorf("unsupported scval type %s", sv.Type)
	}
}

func addressString(a xdr.ScAddress) (string, error) {
	switch a.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		aid, ok := a.GetAccountId()
		if !ok {
			return "", fmt.Errorf("account address without account id")
		}
		return aid.GetAddress()
	case xdr.ScAddressTypeScAddressTypeContract:
		id, ok := a.GetContractId()
		if !ok {
			return "", fmt.Errorf("contract address without contract id")
		}
		return strkey.Encode(strkey.VersionByteContract, id[:])
	default:
		return "", fmt.Errorf("unsupported address type %s", a.Type)
	}
}

func joinU128(hi, lo uint64) *big.Int {
	out := new(big.Int).SetUint64(hi)
	out.Lsh(out, 64)
	return out.Or(out, new(big.Int).SetUint64(lo))
}

func joinI128(hi int64, lo uint64) *big.Int {
	out := big.NewInt(hi)
	out.Lsh(out, 64)
	return out.Add(out, new(big.Int).SetUint64(lo))
}
