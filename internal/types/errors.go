package types

import "fmt"

// ProverUnavailableError means the prover service could not be reached or
// answered with a server-side failure. The request may succeed on retry.
type ProverUnavailableError struct {
	Operation string
	Cause     error
}

func (e *ProverUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("prover unavailable during %s: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("prover unavailable during %s", e.Operation)
}

func (e *ProverUnavailableError) Unwrap() error {
	return e.Cause
}

// ProofInvalidError means the proof request or the proof itself is bad:
// preimage hashes that do not match their inputs, a prover rejection, or
// public values that fail to decode. Retrying the same input cannot succeed.
type ProofInvalidError struct {
	Operation string
	Reason    string
	Cause     error
}

func (e *ProofInvalidError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid proof during %s: %s: %v", e.Operation, e.Reason, e.Cause)
	}
	return fmt.Sprintf("invalid proof during %s: %s", e.Operation, e.Reason)
}

func (e *ProofInvalidError) Unwrap() error {
	return e.Cause
}
