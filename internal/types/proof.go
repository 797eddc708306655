package types

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// mustNewType creates an ABI type, panicking on error (package-level use only).
func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("failed to create ABI type %s: %v", t, err))
	}
	return typ
}

// WithdrawalPreimage binds a commitment's private material to the public
// hashes a withdrawal spends against. The orchestrator re-derives both hashes
// locally and refuses to call the prover on a mismatch.
type WithdrawalPreimage struct {
	Value     *big.Int    `json:"value"`     // uint256
	Label     common.Hash `json:"label"`     // bytes32
	Nullifier common.Hash `json:"nullifier"` // bytes32
	Secret    common.Hash `json:"secret"`    // bytes32
}

// WithdrawalInput is the public side of a withdrawal proof request.
type WithdrawalInput struct {
	CommitmentHash common.Hash    `json:"commitment_hash"` // bytes32 - commitment being spent
	NullifierHash  common.Hash    `json:"nullifier_hash"`  // bytes32 - derived from the preimage nullifier
	Recipient      common.Address `json:"recipient"`
	WithdrawnValue *big.Int       `json:"withdrawn_value"` // uint256
	StateRoot      common.Hash    `json:"state_root"`      // bytes32 - pool state tree root
	AllowlistRoot  common.Hash    `json:"allowlist_root"`  // bytes32 - approved-set tree root
	Context        common.Hash    `json:"context"`         // bytes32 - binds the proof to one relay context
}

// CommitmentProof is the prover's answer for a commitment (ragequit) proof.
// ProofData and PublicValues are 0x-prefixed hex as returned on the wire.
type CommitmentProof struct {
	ProofData    string `json:"proof_data"`
	PublicValues string `json:"public_values"`
}

// WithdrawalProof is the prover's answer for a withdrawal proof.
type WithdrawalProof struct {
	ProofData     string `json:"proof_data"`
	PublicValues  string `json:"public_values"`
	NullifierHash string `json:"nullifier_hash"` // bytes32 - convenience copy of the spent nullifier hash
}

// CommitmentProofValues are the decoded public values of a commitment proof.
// Format (Solidity ABI encode):
//   - bytes32 commitment    - commitment hash
//   - bytes32 label         - chain label
//   - uint256 value         - bound value
//   - bytes32 nullifierHash - hash of the commitment nullifier
type CommitmentProofValues struct {
	CommitmentHash string `json:"commitment_hash"` // bytes32
	Label          string `json:"label"`           // bytes32
	Value          string `json:"value"`           // uint256, decimal string
	NullifierHash  string `json:"nullifier_hash"`  // bytes32
}

// WithdrawalProofValues are the decoded public values of a withdrawal proof.
// Format (Solidity ABI encode):
//   - bytes32 stateRoot      - pool state tree root the proof was built against
//   - bytes32 nullifierHash  - spent nullifier hash
//   - bytes32 newCommitment  - change commitment appended to the chain
//   - uint256 withdrawnValue - value leaving the pool
//   - address recipient      - withdrawal beneficiary
type WithdrawalProofValues struct {
	StateRoot         string `json:"state_root"`          // bytes32
	NullifierHash     string `json:"nullifier_hash"`      // bytes32
	NewCommitmentHash string `json:"new_commitment_hash"` // bytes32
	WithdrawnValue    string `json:"withdrawn_value"`     // uint256, decimal string
	Recipient         string `json:"recipient"`           // address
}

// unpackTuple decodes an ABI-encoded struct (tuple) produced by the prover.
// The first 32 bytes carry the offset to the tuple data; Unpack expects to
// start from that offset.
func unpackTuple(publicValuesHex string, args abi.Arguments) ([]interface{}, error) {
	cleanHex := strings.TrimPrefix(publicValuesHex, "0x")
	raw, err := hex.DecodeString(cleanHex)
	if err != nil {
		return nil, fmt.Errorf("hex decode failed: %w", err)
	}
	if len(raw) < 32 {
		return nil, fmt.Errorf("public values too short, need at least 32 bytes for offset")
	}
	offset := int(new(big.Int).SetBytes(raw[0:32]).Uint64())
	if offset < 32 || offset >= len(raw) {
		return nil, fmt.Errorf("invalid struct offset: %d (data length: %d)", offset, len(raw))
	}
	unpacked, err := args.Unpack(raw[offset:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack ABI data: %w", err)
	}
	if len(unpacked) != len(args) {
		return nil, fmt.Errorf("unexpected unpacked data length: expected %d fields, got %d", len(args), len(unpacked))
	}
	return unpacked, nil
}

// ParseCommitmentProofValues parses commitment proof public values from the
// prover's hex encoding.
func ParseCommitmentProofValues(publicValuesHex string) (*CommitmentProofValues, error) {
	unpacked, err := unpackTuple(publicValuesHex, abi.Arguments{
		{Name: "commitment", Type: mustNewType("bytes32")},
		{Name: "label", Type: mustNewType("bytes32")},
		{Name: "value", Type: mustNewType("uint256")},
		{Name: "nullifierHash", Type: mustNewType("bytes32")},
	})
	if err != nil {
		return nil, err
	}

	commitment := unpacked[0].([32]byte)
	label := unpacked[1].([32]byte)
	nullifierHash := unpacked[3].([32]byte)

	return &CommitmentProofValues{
		CommitmentHash: "0x" + hex.EncodeToString(commitment[:]),
		Label:          "0x" + hex.EncodeToString(label[:]),
		Value:          unpacked[2].(*big.Int).String(),
		NullifierHash:  "0x" + hex.EncodeToString(nullifierHash[:]),
	}, nil
}

// ParseWithdrawalProofValues parses withdrawal proof public values from the
// prover's hex encoding.
func ParseWithdrawalProofValues(publicValuesHex string) (*WithdrawalProofValues, error) {
	unpacked, err := unpackTuple(publicValuesHex, abi.Arguments{
		{Name: "stateRoot", Type: mustNewType("bytes32")},
		{Name: "nullifierHash", Type: mustNewType("bytes32")},
		{Name: "newCommitment", Type: mustNewType("bytes32")},
		{Name: "withdrawnValue", Type: mustNewType("uint256")},
		{Name: "recipient", Type: mustNewType("address")},
	})
	if err != nil {
		return nil, err
	}

	stateRoot := unpacked[0].([32]byte)
	nullifierHash := unpacked[1].([32]byte)
	newCommitment := unpacked[2].([32]byte)

	return &WithdrawalProofValues{
		StateRoot:         "0x" + hex.EncodeToString(stateRoot[:]),
		NullifierHash:     "0x" + hex.EncodeToString(nullifierHash[:]),
		NewCommitmentHash: "0x" + hex.EncodeToString(newCommitment[:]),
		WithdrawnValue:    unpacked[3].(*big.Int).String(),
		Recipient:         unpacked[4].(common.Address).Hex(),
	}, nil
}

// ExtractNullifierHash extracts the spent nullifier hash from withdrawal
// proof public values.
func ExtractNullifierHash(publicValuesHex string) (string, error) {
	parsed, err := ParseWithdrawalProofValues(publicValuesHex)
	if err != nil {
		return "", err
	}
	return parsed.NullifierHash, nil
}
