package vm

import (
	"crypto/sha256"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"golang.org/x/crypto/ripemd160"
)

// PrecompiledContract is a native contract living at a fixed address
type PrecompiledContract interface {
	RequiredGas(input []byte) uint64
	Run(input []byte) ([]byte, error)
}

// Precompiles returns the native contracts at 0x01 through 0x04
func Precompiles() map[common.Address]PrecompiledContract {
	return map[common.Address]PrecompiledContract{
		common.BytesToAddress([]byte{1}): &ecrecover{},
		common.BytesToAddress([]byte{2}): &sha256hash{},
		common.BytesToAddress([]byte{3}): &ripemd160hash{},
		common.BytesToAddress([]byte{4}): &dataCopy{},
	}
}

// RunPrecompiledContract charges the contract's gas and runs it
func RunPrecompiledContract(p PrecompiledContract, input []byte, gas *GasMeter) ([]byte, error) {
	if err := gas.Charge(p.RequiredGas(input)); err != nil {
		return nil, err
	}
	output, err := p.Run(input)
	if err != nil {
		return nil, ErrPrecompileFailed
	}
	return output, nil
}

func wordGas(input []byte, base, perWord uint64) uint64 {
	return base + perWord*toWordSize(uint64(len(input)))
}

type ecrecover struct{}

func (c *ecrecover) RequiredGas(input []byte) uint64 {
	return params.EcrecoverGas
}

// Run returns the signer address left-padded to 32 bytes. Malformed signatures yield
// empty output rather than an error.
func (c *ecrecover) Run(input []byte) ([]byte, error) {
	const ecRecoverInputLength = 128

	input = common.RightPadBytes(input, ecRecoverInputLength)
	r := new(big.Int).SetBytes(input[64:96])
	s := new(big.Int).SetBytes(input[96:128])
	v := input[63] - 27

	// v must be a 32-byte word holding 27 or 28
	if !allZero(input[32:63]) || !crypto.ValidateSignatureValues(v, r, s, false) {
		return nil, nil
	}
	sig := make([]byte, 65)
	copy(sig, input[64:128])
	sig[64] = v

	pubKey, err := crypto.Ecrecover(input[:32], sig)
	if err != nil {
		return nil, nil
	}
	return common.LeftPadBytes(crypto.Keccak256(pubKey[1:])[12:], 32), nil
}

type sha256hash struct{}

func (c *sha256hash) RequiredGas(input []byte) uint64 {
	return wordGas(input, params.Sha256BaseGas, params.Sha256PerWordGas)
}

func (c *sha256hash) Run(input []byte) ([]byte, error) {
	h := sha256.Sum256(input)
	return h[:], nil
}

type ripemd160hash struct{}

func (c *ripemd160hash) RequiredGas(input []byte) uint64 {
	return wordGas(input, params.Ripemd160BaseGas, params.Ripemd160PerWordGas)
}

func (c *ripemd160hash) Run(input []byte) ([]byte, error) {
	ripemd := ripemd160.New()
	ripemd.Write(input)
	return common.LeftPadBytes(ripemd.Sum(nil), 32), nil
}

// dataCopy is the identity contract
type dataCopy struct{}

func (c *dataCopy) RequiredGas(input []byte) uint64 {
	return wordGas(input, params.IdentityBaseGas, params.IdentityPerWordGas)
}

func (c *dataCopy) Run(input []byte) ([]byte, error) {
	return common.CopyBytes(input), nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
