// Package signer produces exchange signatures for L1 actions.
//
// An action is msgpack-encoded, followed by the nonce and vault marker, and
// hashed into a connection id. The connection id is then signed as an
// EIP-712 "Agent" message.
package signer

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
	"github.com/stino180/invest-simply/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	domainName    = "Exchange"
	domainVersion = "1"
	domainChainID = 1337

	sourceMainnet = "a"
	sourceTestnet = "b"
)

var zeroAddress = common.Address{}

// ActionHash returns the connection id of action:
// keccak256(msgpack(action) || nonce(8, big-endian) || vaultMarker [|| vault]).
func ActionHash(action any, nonce uint64, vault *common.Address) (common.Hash, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(action); err != nil {
		return common.Hash{}, errors.Wrap(err, "encode action")
	}

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	buf.Write(n[:])

	if vault == nil {
		buf.WriteByte(0x00)
	} else {
		buf.WriteByte(0x01)
		buf.Write(vault.Bytes())
	}

	return crypto.Keccak256Hash(buf.Bytes()), nil
}

func agentTypedData(connectionID common.Hash, isMainnet bool) apitypes.TypedData {
	source := sourceTestnet
	if isMainnet {
		source = sourceMainnet
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           math.NewHexOrDecimal256(domainChainID),
			VerifyingContract: zeroAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"source":       source,
			"connectionId": connectionID.Bytes(),
		},
	}
}

// typedDataHash keccak256("\x19\x01" || domainSeparator || messageHash).
func typedDataHash(td apitypes.TypedData) (common.Hash, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to hash domain")
	}

	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to hash message")
	}

	rawData := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	rawData = append(rawData, 0x19, 0x01)
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, messageHash...)
	return crypto.Keccak256Hash(rawData), nil
}

// SignL1Action signs action for submission with the given nonce.
// The same action value must be sent as the request's "action" field.
func SignL1Action(key *ecdsa.PrivateKey, action any, nonce uint64, vault *common.Address, isMainnet bool) (domain.Signature, error) {
	if key == nil {
		return domain.Signature{}, errors.New("missing signing key")
	}

	connectionID, err := ActionHash(action, nonce, vault)
	if err != nil {
		return domain.Signature{}, err
	}

	hash, err := typedDataHash(agentTypedData(connectionID, isMainnet))
	if err != nil {
		return domain.Signature{}, err
	}

	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return domain.Signature{}, errors.Wrap(err, "failed to sign")
	}

	return domain.Signature{
		R: hexutil.EncodeBig(new(big.Int).SetBytes(sig[:32])),
		S: hexutil.EncodeBig(new(big.Int).SetBytes(sig[32:64])),
		V: sig[64] + 27,
	}, nil
}

// RecoverL1ActionSigner returns the address that produced sig over action.
func RecoverL1ActionSigner(action any, nonce uint64, vault *common.Address, isMainnet bool, sig domain.Signature) (common.Address, error) {
	connectionID, err := ActionHash(action, nonce, vault)
	if err != nil {
		return common.Address{}, err
	}
	hash, err := typedDataHash(agentTypedData(connectionID, isMainnet))
	if err != nil {
		return common.Address{}, err
	}

	r, err := hexutil.DecodeBig(sig.R)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "decode r")
	}
	s, err := hexutil.DecodeBig(sig.S)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "decode s")
	}
	if sig.V != 27 && sig.V != 28 {
		return common.Address{}, errors.Errorf("invalid recovery id %d", sig.V)
	}

	raw := make([]byte, 65)
	r.FillBytes(raw[:32])
	s.FillBytes(raw[32:64])
	raw[64] = sig.V - 27

	pub, err := crypto.SigToPub(hash.Bytes(), raw)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "recover public key")
	}
	return crypto.PubkeyToAddress(*pub), nil
}
