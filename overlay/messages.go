package overlay

import (
	"encoding/binary"
	"fmt"
	"time"

	"chainbft_vote/types"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

const maxEnvelopeSize = 1 << 20 // 1MB

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrEmptyPayload       = errors.New("empty payload")
	ErrEmptySignature     = errors.New("empty signature")
	ErrEnvelopeTooLarge   = errors.New("envelope too large")
)

type MessageType uint8

const (
	MessageTypeIdentity   MessageType = 1
	MessageTypeShare      MessageType = 2
	MessageTypeDisconnect MessageType = 3
	MessageTypeVote       MessageType = 4
)

func (t MessageType) IsValid() bool {
	return t >= MessageTypeIdentity && t <= MessageTypeVote
}

func (t MessageType) String() string {
	switch t {
	case MessageTypeIdentity:
		return "Identity"
	case MessageTypeShare:
		return "Share"
	case MessageTypeDisconnect:
		return "Disconnect"
	case MessageTypeVote:
		return "Vote"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Envelope 私有网络中传输的消息外层，签名覆盖 Type|ChainID|Payload
type Envelope struct {
	ChainID   string           `json:"chain_id"`
	Type      MessageType      `json:"type"`
	Signer    types.Address    `json:"signer"`
	Payload   tmbytes.HexBytes `json:"payload"`
	Signature tmbytes.HexBytes `json:"signature"`
}

// NewEnvelope 构造并用本节点的私钥签名
func NewEnvelope(chainID string, mt MessageType, signer types.Crypto, payload []byte) (*Envelope, error) {
	env := &Envelope{
		ChainID: chainID,
		Type:    mt,
		Signer:  signer.AddressOf(signer.PubKey()),
		Payload: payload,
	}
	sig, err := signer.Sign(env.SignBytes())
	if err != nil {
		return nil, errors.Wrap(err, "sign envelope")
	}
	env.Signature = sig
	return env, nil
}

func (env *Envelope) SignBytes() []byte {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(env.ChainID)))

	bz := make([]byte, 0, 1+n+len(env.ChainID)+len(env.Payload))
	bz = append(bz, byte(env.Type))
	bz = append(bz, lenBuf[:n]...)
	bz = append(bz, env.ChainID...)
	bz = append(bz, env.Payload...)
	return bz
}

// ID 用于转发去重
func (env *Envelope) ID() string {
	bz := append(env.SignBytes(), env.Signature...)
	return string(tmhash.Sum(bz))
}

// VerifyWith 用给定公钥验证签名，并检查公钥和签名者地址一致
func (env *Envelope) VerifyWith(verifier types.Verifier, pubKey []byte) bool {
	if !verifier.AddressOf(pubKey).Equal(env.Signer) {
		return false
	}
	return verifier.Verify(env.SignBytes(), env.Signature, pubKey)
}

func (env *Envelope) ValidateBasic() error {
	if env.ChainID == "" {
		return errors.New("empty chain id")
	}
	if !env.Type.IsValid() {
		return errors.Wrapf(ErrUnknownMessageType, "%d", env.Type)
	}
	if len(env.Signer) == 0 {
		return errors.New("empty signer")
	}
	if len(env.Payload) == 0 {
		return ErrEmptyPayload
	}
	if len(env.Signature) == 0 {
		return ErrEmptySignature
	}
	return nil
}

func (env *Envelope) Encode() ([]byte, error) {
	return tmjson.Marshal(env)
}

func DecodeEnvelope(bz []byte) (*Envelope, error) {
	if len(bz) > maxEnvelopeSize {
		return nil, errors.Wrapf(ErrEnvelopeTooLarge, "%d bytes", len(bz))
	}
	env := new(Envelope)
	if err := tmjson.Unmarshal(bz, env); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}
	if err := env.ValidateBasic(); err != nil {
		return nil, err
	}
	return env, nil
}

func (env *Envelope) String() string {
	return fmt.Sprintf("Envelope{%s %v signer:%v payload:%d}",
		env.ChainID, env.Type, env.Signer, len(env.Payload))
}

// ----- payloads -----

// IdentityPayload 身份广播的明文，按接收者公钥加密
type IdentityPayload struct {
	NodeID    types.NodeID     `json:"node_id"`
	PublicKey tmbytes.HexBytes `json:"public_key"`
	Broadcast bool             `json:"broadcast"`
}

// ConsensusNetLite 分享目录时的精简记录
type ConsensusNetLite struct {
	Address   types.Address    `json:"address"`
	PublicKey tmbytes.HexBytes `json:"public_key"`
	NodeID    types.NodeID     `json:"node_id"`
}

type SharePayload struct {
	Peers []ConsensusNetLite `json:"peers"`
}

// DisconnectPayload 明文，只签名不加密
type DisconnectPayload struct {
	NodeID types.NodeID `json:"node_id"`
	Time   time.Time    `json:"time"`
}

// sealPayload 编码后用接收者公钥加密
func sealPayload(cr types.Crypto, recipient []byte, payload interface{}) ([]byte, error) {
	bz, err := tmjson.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return cr.EncryptFor(recipient, bz)
}

// openPayload 解密失败说明消息不是发给本节点的
func openPayload(cr types.Crypto, ciphertext []byte, payload interface{}) error {
	bz, err := cr.DecryptForSelf(ciphertext)
	if err != nil {
		return errors.Wrap(ErrDecrypt, err.Error())
	}
	return tmjson.Unmarshal(bz, payload)
}
