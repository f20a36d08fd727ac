package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeySigner signs with a locally held key. Meant for development chains.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	session Session
}

func NewKeySigner(hexKey string) (*KeySigner, error) {
	key, err := parsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	return NewKeySignerFromKey(key), nil
}

func NewKeySignerFromKey(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:     key,
		session: Session{Address: crypto.PubkeyToAddress(key.PublicKey)},
	}
}

func (k *KeySigner) Connect(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	return k.session, nil
}

func (k *KeySigner) SignTransaction(_ context.Context, session Session, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if session.Address != k.session.Address {
		return nil, fmt.Errorf("%w: session address %s is not held by this signer", ErrSignatureRejected, session.Address.Hex())
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), k.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureRejected, err)
	}
	return signed, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
