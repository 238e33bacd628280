// Package commitment implements the commit-reveal scheme the task contract
// expects: a node commits keccak256(result || nonce) on-chain before
// disclosing result itself, preventing result grinding by later committers.
package commitment

import (
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Result bundles the pure outputs of Make: the decoded result bytes, the
// random nonce used, and their packed commitment.
type Result struct {
	Result     []byte
	Nonce      [32]byte
	Commitment [32]byte
}

// Make decodes hashes (each a "0x"-prefixed hex string) and concatenates
// them into Result.Result, draws a fresh 32-byte nonce, and computes
// Commitment = keccak256(Result.Result || Nonce) under Solidity's
// packed (no length-prefix) encoding, matching the contract's
// abi.encodePacked(bytes, bytes32).
//
// An empty hashes slice yields an empty Result.Result and a commitment over
// just the nonce; callers enforcing a non-empty-result precondition must
// check len(Result.Result) themselves.
func Make(hashes []string) (Result, error) {
	var result []byte
	for i, h := range hashes {
		b, err := hexutil.Decode(h)
		if err != nil {
			return Result{}, fmt.Errorf("commitment: decode hash %d (%q): %w", i, h, err)
		}
		result = append(result, b...)
	}

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Result{}, fmt.Errorf("commitment: generate nonce: %w", err)
	}

	packed := make([]byte, 0, len(result)+len(nonce))
	packed = append(packed, result...)
	packed = append(packed, nonce[:]...)

	var commit [32]byte
	copy(commit[:], crypto.Keccak256(packed))

	return Result{Result: result, Nonce: nonce, Commitment: commit}, nil
}
