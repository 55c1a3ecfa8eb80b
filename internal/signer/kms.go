package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/asn1"
	"math/big"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// KMSSigner signs with a secp256k1 key held in AWS KMS, so the raw key
// material never enters process memory. This is the custodial-deployment
// counterpart to LocalSigner; spec section 4.2 only requires "a pluggable
// signer", this is one concrete implementation of that seam.
type KMSSigner struct {
	client  *kms.KMS
	keyID   string
	address common.Address
	pubkey  *ecdsa.PublicKey
}

// NewKMSSigner resolves the KMS key's public key once at startup and derives
// the EVM address it signs for.
func NewKMSSigner(sess *session.Session, keyID string) (*KMSSigner, error) {
	client := kms.New(sess)
	out, err := client.GetPublicKey(&kms.GetPublicKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return nil, errors.Wrap(err, "kms get public key")
	}
	pub, err := parseKMSPublicKey(out.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KMSSigner{
		client:  client,
		keyID:   keyID,
		address: crypto.PubkeyToAddress(*pub),
		pubkey:  pub,
	}, nil
}

func (s *KMSSigner) Address() common.Address { return s.address }

func (s *KMSSigner) Sign(ctx context.Context, tx *UnsignedTx) ([]byte, common.Hash, error) {
	ethTx := toEthTx(tx)
	chainSigner := types.LatestSignerForChainID(ethTx.ChainId())
	digest := chainSigner.Hash(ethTx)

	out, err := s.client.SignWithContext(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyID),
		Message:          digest[:],
		MessageType:      aws.String(kms.MessageTypeDigest),
		SigningAlgorithm: aws.String(kms.SigningAlgorithmSpecEcdsaSha256),
	})
	if err != nil {
		return nil, common.Hash{}, errors.Wrap(err, "kms sign")
	}

	sig, err := kmsSignatureToEthereum(out.Signature, s.pubkey, digest[:])
	if err != nil {
		return nil, common.Hash{}, err
	}
	signed, err := ethTx.WithSignature(chainSigner, sig)
	if err != nil {
		return nil, common.Hash{}, errors.Wrap(err, "attach kms signature")
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, common.Hash{}, errors.Wrap(err, "marshal signed transaction")
	}
	logger.Debug("signed transaction via kms", "key_id", s.keyID, "from", s.address.Hex(), "hash", signed.Hash().Hex())
	return raw, signed.Hash(), nil
}

// asn1EcdsaSignature is the DER structure KMS returns for ECDSA_SHA_256.
type asn1EcdsaSignature struct {
	R, S *big.Int
}

// kmsSignatureToEthereum converts a DER-encoded (r, s) pair into go-ethereum's
// 65-byte [R || S || V] form, recovering the V value by brute-forcing both
// candidates against the known public key, per the standard KMS-to-EVM
// recovery dance.
func kmsSignatureToEthereum(der []byte, pub *ecdsa.PublicKey, digest []byte) ([]byte, error) {
	var parsed asn1EcdsaSignature
	if _, err := asn1.Unmarshal(der, &parsed); err != nil {
		return nil, errors.Wrap(err, "parse kms signature")
	}

	secp256k1N := crypto.S256().Params().N
	halfN := new(big.Int).Rsh(secp256k1N, 1)
	s := parsed.S
	if s.Cmp(halfN) > 0 {
		s = new(big.Int).Sub(secp256k1N, s)
	}

	rBytes := leftPad32(parsed.R.Bytes())
	sBytes := leftPad32(s.Bytes())

	for recID := byte(0); recID < 2; recID++ {
		sig := append(append(append([]byte{}, rBytes...), sBytes...), recID)
		recovered, err := crypto.SigToPub(digest, sig)
		if err != nil {
			continue
		}
		if recovered.X.Cmp(pub.X) == 0 && recovered.Y.Cmp(pub.Y) == 0 {
			return sig, nil
		}
	}
	return nil, errors.New("kms signature: no recovery id matches the known public key")
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// parseKMSPublicKey decodes the DER SubjectPublicKeyInfo KMS returns for an
// ECC_SECG_P256K1 key into an *ecdsa.PublicKey.
func parseKMSPublicKey(der []byte) (*ecdsa.PublicKey, error) {
	var spki struct {
		Algorithm struct {
			Algorithm  asn1.ObjectIdentifier
			Parameters asn1.ObjectIdentifier
		}
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, errors.Wrap(err, "parse kms public key")
	}
	pub, err := crypto.UnmarshalPubkey(spki.PublicKey.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal secp256k1 public key")
	}
	return pub, nil
}
