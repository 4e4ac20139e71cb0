// Package sorobantest builds well-formed pool events for tests.
package sorobantest

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/devblac/reward-tower/internal/scval"
	"github.com/devblac/reward-tower/internal/soroban"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// Contract returns a deterministic contract strkey filled with b.
func Contract(b byte) string {
	s, err := strkey.Encode(strkey.VersionByteContract, bytes.Repeat([]byte{b}, 32))
	if err != nil {
		panic(err)
	}
	return s
}

// Account returns a fresh random account strkey.
func Account() string {
	return keypair.MustRandom().Address()
}

// PoolEvent encodes a lending-pool style event: topics (kind, asset, user)
// and data Vec[amount, amount].
func PoolEvent(id string, ledger uint32, pool, kind, asset, user string, amount int64) soroban.Event {
	assetVal, err := scval.Address(asset)
	must(err)
	userVal, err := scval.Address(user)
	must(err)
	amt, err := scval.I128(big.NewInt(amount))
	must(err)

	return soroban.Event{
		Type:       "contract",
		ID:         id,
		Ledger:     ledger,
		ContractID: pool,
		Topic:      []string{encode(scval.Symbol(kind)), encode(assetVal), encode(userVal)},
		Value:      encode(scval.Vec(amt, amt)),
		TxHash:     fmt.Sprintf("%064d", ledger),
	}
}

func encode(v xdr.ScVal) string {
	s, err := scval.EncodeBase64(v)
	must(err)
	return s
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
