package payment

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// transferSelector is the first 4 bytes of keccak256("transfer(address,uint256)").
var transferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

// EncodeTransfer builds the ERC-20 transfer(address,uint256) call data for one
// leg: 4-byte selector, 32-byte left-padded recipient, 32-byte big-endian
// amount.
func EncodeTransfer(recipient string, amount *big.Int) ([]byte, error) {
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, recipient)
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: transfer amount must be non-negative", ErrInvalidAmount)
	}
	if amount.BitLen() > 256 {
		return nil, fmt.Errorf("%w: transfer amount exceeds uint256", ErrInvalidAmount)
	}

	addr := common.HexToAddress(recipient)

	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(addr.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data, nil
}
