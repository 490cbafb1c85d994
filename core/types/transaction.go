package types

import (
	"crypto/ecdsa"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeTransfer         TxType = 0x01 // Direct transfer of the native currency
	TxTypeCreateEscrow     TxType = 0x02 // Open and fund a milestone escrow
	TxTypeSubmitMilestone  TxType = 0x03 // Freelancer submits work for review
	TxTypeApproveMilestone TxType = 0x04 // Client approves and releases a milestone
	TxTypeRejectMilestone  TxType = 0x05 // Client sends a milestone back for rework
	TxTypeRaiseDispute     TxType = 0x06 // Either party flags the escrow as disputed
	TxTypeCancelEscrow     TxType = 0x07 // Client cancels an untouched escrow
	TxTypeResolveDispute   TxType = 0x08 // Arbiter settles a disputed escrow
)

// Transaction is the envelope the ledger wraps around every state transition.
// Value carries the funds attached to the operation (the payable amount for
// escrow creation); Data carries the RLP-encoded operation payload.
type Transaction struct {
	Type     TxType   `json:"type"`
	Nonce    uint64   `json:"nonce"`
	From     []byte   `json:"from"`
	To       []byte   `json:"to,omitempty"`
	Value    *big.Int `json:"value"`
	Data     []byte   `json:"data,omitempty"`
	GasLimit uint64   `json:"gasLimit"`
	GasPrice *big.Int `json:"gasPrice"`

	R *big.Int `json:"r,omitempty"`
	S *big.Int `json:"s,omitempty"`
	V *big.Int `json:"v,omitempty"`
}

type txSigHash struct {
	Type     byte
	Nonce    uint64
	From     []byte
	To       []byte
	Value    *big.Int
	Data     []byte
	GasLimit uint64
	GasPrice *big.Int
}

// Hash returns the keccak256 digest of the RLP-encoded transaction body,
// excluding the signature fields.
func (tx *Transaction) Hash() ([]byte, error) {
	body := txSigHash{
		Type:     byte(tx.Type),
		Nonce:    tx.Nonce,
		From:     tx.From,
		To:       tx.To,
		Value:    normalizeBig(tx.Value),
		Data:     tx.Data,
		GasLimit: tx.GasLimit,
		GasPrice: normalizeBig(tx.GasPrice),
	}
	encoded, err := rlp.EncodeToBytes(body)
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(encoded), nil
}

// Sign attaches a secp256k1 signature over the transaction hash.
func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := ethcrypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	return nil
}

// VerifySender recovers the signing address and checks it matches From.
func (tx *Transaction) VerifySender() (bool, error) {
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return false, nil
	}
	hash, err := tx.Hash()
	if err != nil {
		return false, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(tx.R.Bytes()):32], tx.R.Bytes())
	copy(sig[64-len(tx.S.Bytes()):64], tx.S.Bytes())
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return false, err
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey).Bytes()
	if len(tx.From) != len(recovered) {
		return false, nil
	}
	for i := range recovered {
		if tx.From[i] != recovered[i] {
			return false, nil
		}
	}
	return true, nil
}

func normalizeBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
