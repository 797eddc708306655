package utils

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Deposit and spend secrets derive deterministically from the account viewing
// key, so commitment history is rebuilt from public pool events alone and no
// private material is ever stored on the backend.

var (
	depositNullifierTag = []byte("pool/deposit/nullifier/v1")
	depositSecretTag    = []byte("pool/deposit/secret/v1")
	spendNullifierTag   = []byte("pool/spend/nullifier/v1")
	spendSecretTag      = []byte("pool/spend/secret/v1")
	accountKeyTag       = []byte("pool/account/key/v1")
)

func indexBytes(index uint64) []byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], index)
	return out[:]
}

// DeriveDepositKeys returns the nullifier and secret for the account's n-th
// deposit under a pool scope. Indices start at 0 and are scanned with a gap
// limit, HD-wallet style.
func DeriveDepositKeys(viewingKey, scope common.Hash, index uint64) (nullifier, secret common.Hash) {
	nullifier = keccak256(viewingKey.Bytes(), scope.Bytes(), depositNullifierTag, indexBytes(index))
	secret = keccak256(viewingKey.Bytes(), scope.Bytes(), depositSecretTag, indexBytes(index))
	return nullifier, secret
}

// DeriveSpendKeys returns the nullifier and secret for the n-th spend of a
// deposit label. Spend indices start at 1; index 0 is the deposit itself.
func DeriveSpendKeys(viewingKey, label common.Hash, index uint64) (nullifier, secret common.Hash) {
	nullifier = keccak256(viewingKey.Bytes(), label.Bytes(), spendNullifierTag, indexBytes(index))
	secret = keccak256(viewingKey.Bytes(), label.Bytes(), spendSecretTag, indexBytes(index))
	return nullifier, secret
}

// ComputeAccountKey derives the opaque identifier the backend keeps for an
// account. One-way: audit rows and push routing carry this key, never the
// viewing key itself.
func ComputeAccountKey(viewingKey common.Hash) common.Hash {
	return keccak256(accountKeyTag, viewingKey.Bytes())
}
