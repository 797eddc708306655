package main

import (
	"flag"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"pool-backend/internal/utils"
)

// Derives the deposit or spend key pair for a viewing key and prints the
// precommitment and nullifier hash, matching what the pool contract expects.
func main() {
	var viewingKeyHex string
	var contextHex string
	var labelHex string
	var mode string
	var index uint64
	var valueStr string

	flag.StringVar(&viewingKeyHex, "viewing-key", "", "Viewing key (bytes32 hex, required)")
	flag.StringVar(&contextHex, "context", "", "Scope for deposits, parent label for spends (bytes32 hex, required)")
	flag.StringVar(&labelHex, "label", "", "Commitment label (bytes32 hex, required with -value)")
	flag.StringVar(&mode, "mode", "deposit", "Derivation mode: deposit or spend")
	flag.Uint64Var(&index, "index", 0, "Derivation index")
	flag.StringVar(&valueStr, "value", "", "Optional commitment value (decimal wei) to compute the full commitment hash")
	flag.Parse()

	if viewingKeyHex == "" || contextHex == "" {
		flag.Usage()
		log.Fatal("both -viewing-key and -context are required")
	}

	viewingKey := common.HexToHash(viewingKeyHex)
	context := common.HexToHash(contextHex)

	var nullifier, secret common.Hash
	switch mode {
	case "deposit":
		nullifier, secret = utils.DeriveDepositKeys(viewingKey, context, index)
	case "spend":
		nullifier, secret = utils.DeriveSpendKeys(viewingKey, context, index)
	default:
		log.Fatalf("unknown mode %q (want deposit or spend)", mode)
	}

	precommitment := utils.ComputePrecommitmentHash(nullifier, secret)
	nullifierHash := utils.ComputeNullifierHash(nullifier)

	fmt.Println("=== Key Derivation ===")
	fmt.Printf("Mode: %s\n", mode)
	fmt.Printf("Viewing Key: %s\n", viewingKey.Hex())
	fmt.Printf("Context: %s\n", context.Hex())
	fmt.Printf("Index: %d\n", index)
	fmt.Println()
	fmt.Printf("Nullifier: %s\n", nullifier.Hex())
	fmt.Printf("Secret: %s\n", secret.Hex())
	fmt.Printf("Precommitment: %s\n", precommitment.Hex())
	fmt.Printf("✅ Nullifier Hash: %s\n", nullifierHash.Hex())

	if valueStr != "" {
		if labelHex == "" {
			log.Fatal("-label is required together with -value")
		}
		value, ok := new(big.Int).SetString(valueStr, 10)
		if !ok {
			log.Fatalf("invalid value %q", valueStr)
		}
		label := common.HexToHash(labelHex)
		commitment, err := utils.ComputeCommitmentHash(value, label, nullifier, secret)
		if err != nil {
			log.Fatalf("commitment hash: %v", err)
		}
		fmt.Printf("✅ Commitment Hash (label=%s value=%s): %s\n", label.Hex(), valueStr, commitment.Hex())
	}

	fmt.Println()
	fmt.Printf("Account Key (routing handle): %s\n", utils.ComputeAccountKey(viewingKey).Hex())
}
