package signer

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/golemfactory/erc20-payment-driver-go/internal/logging"
)

var logger = logging.NewModuleLogger(logging.ModuleSigner)

// LocalSigner holds a raw secp256k1 private key in process memory and signs
// with go-ethereum's own EIP-155/EIP-1559 signer, the same path the teacher
// uses wherever it signs a transaction for its own account.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalSigner parses a hex-encoded private key, e.g. as read from the
// ETH_PRIVATE_KEYS environment overlay (spec section 6).
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (s *LocalSigner) Address() common.Address { return s.address }

func (s *LocalSigner) Sign(ctx context.Context, tx *UnsignedTx) ([]byte, common.Hash, error) {
	ethTx := toEthTx(tx)
	chainSigner := types.LatestSignerForChainID(ethTx.ChainId())
	signed, err := types.SignTx(ethTx, chainSigner, s.key)
	if err != nil {
		return nil, common.Hash{}, errors.Wrap(err, "sign transaction")
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, common.Hash{}, errors.Wrap(err, "marshal signed transaction")
	}
	logger.Debug("signed transaction", "from", s.address.Hex(), "nonce", tx.Nonce, "hash", signed.Hash().Hex())
	return raw, signed.Hash(), nil
}
