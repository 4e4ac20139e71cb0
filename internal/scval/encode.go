package scval

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

var (
	maxI128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minI128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	mask64  = new(big.Int).SetUint64(^uint64(0))
)

// ParseAddress converts a G... account or C... contract strkey into an ScAddress.
func ParseAddress(s string) (xdr.ScAddress, error) {
	switch {
	case strings.HasPrefix(s, "G"):
		aid, err := xdr.AddressToAccountId(s)
		if err != nil {
			return xdr.ScAddress{}, fmt.Errorf("parse account %q: %w", s, err)
		}
		return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeAccount, AccountId: &aid}, nil
	case strings.HasPrefix(s, "C"):
		raw, err := strkey.Decode(strkey.VersionByteContract, s)
		if err != nil {
			return xdr.ScAddress{}, fmt.Errorf("parse contract %q: %w", s, err)
		}
		var id xdr.Hash
		copy(id[:], raw)
		return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &id}, nil
	default:
		return xdr.ScAddress{}, fmt.Errorf("unsupported address %q", s)
	}
}

// IsContractAddress reports whether s is a valid contract strkey.
func IsContractAddress(s string) bool {
	_, err := strkey.Decode(strkey.VersionByteContract, s)
	return err == nil
}

// Address encodes a strkey as an address ScVal.
func Address(s string) (xdr.ScVal, error) {
	a, err := ParseAddress(s)
	if err != nil {
		return xdr.ScVal{}, err
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &a}, nil
}

// U32 encodes a 32-bit unsigned integer.
func U32(n uint32) xdr.ScVal {
	u := xdr.Uint32(n)
	return xdr.ScVal{Type: xdr.ScValTypeScvU32, U32: &u}
}

// Symbol encodes a symbol.
func Symbol(s string) xdr.ScVal {
	sym := xdr.ScSymbol(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
}

// I128 encodes a signed 128-bit integer, rejecting values out of range.
func I128(n *big.Int) (xdr.ScVal, error) {
	if n == nil {
		return xdr.ScVal{}, fmt.Errorf("i128: nil value")
	}
	if n.Cmp(maxI128) > 0 || n.Cmp(minI128) < 0 {
		return xdr.ScVal{}, fmt.Errorf("i128: %s out of range", n)
	}
	hi := new(big.Int).Rsh(n, 64)
	lo := new(big.Int).And(n, mask64)
	parts := xdr.Int128Parts{Hi: xdr.Int64(hi.Int64()), Lo: xdr.Uint64(lo.Uint64())}
	return xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}, nil
}

// Vec encodes a sequence of values.
func Vec(items ...xdr.ScVal) xdr.ScVal {
	vec := xdr.ScVec(items)
	p := &vec
	return xdr.ScVal{Type: xdr.ScValTypeScvVec, Vec: &p}
}

// AddressVec encodes a Vec<Address>.
func AddressVec(addrs []string) (xdr.ScVal, error) {
	items := make([]xdr.ScVal, 0, len(addrs))
	for _, a := range addrs {
		v, err := Address(a)
		if err != nil {
			return xdr.ScVal{}, err
		}
		items = append(items, v)
	}
	return Vec(items...), nil
}

// I128Vec encodes a Vec<i128>.
func I128Vec(nums []*big.Int) (xdr.ScVal, error) {
	items := make([]xdr.ScVal, 0, len(nums))
	for _, n := range nums {
		v, err := I128(n)
		if err != nil {
			return xdr.ScVal{}, err
		}
		items = append(items, v)
	}
	return Vec(items...), nil
}

// EncodeBase64 marshals a ScVal to its base64 wire form.
func EncodeBase64(v xdr.ScVal) (string, error) {
	return xdr.MarshalBase64(v)
}
