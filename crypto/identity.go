package crypto

import (
	"chainbft_vote/types"

	"github.com/pkg/errors"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/encrypt/ecies"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
)

var (
	ErrInvalidPubKey  = errors.New("invalid public key")
	ErrInvalidPrivKey = errors.New("invalid private key")
	ErrDecrypt        = errors.New("decrypt failed")
)

// 签名和加密共用一套ed25519的密钥
var suite = edwards25519.NewBlakeSHA256Ed25519()

// Identity 本节点的密钥，实现types.Crypto
// 签名使用schnorr，点对点加密使用ECIES
type Identity struct {
	priv     kyber.Scalar
	pub      kyber.Point
	pubBytes []byte
}

var _ types.Crypto = (*Identity)(nil)

func GenIdentity() *Identity {
	pair := key.NewKeyPair(suite)
	id, err := newIdentity(pair.Private, pair.Public)
	if err != nil {
		panic(err)
	}
	return id
}

// NewIdentity 从私钥字节恢复
func NewIdentity(privKey []byte) (*Identity, error) {
	priv := suite.Scalar()
	if err := priv.UnmarshalBinary(privKey); err != nil {
		return nil, errors.Wrap(ErrInvalidPrivKey, err.Error())
	}
	return newIdentity(priv, suite.Point().Mul(priv, nil))
}

func newIdentity(priv kyber.Scalar, pub kyber.Point) (*Identity, error) {
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &Identity{priv: priv, pub: pub, pubBytes: pubBytes}, nil
}

func (id *Identity) PrivKeyBytes() []byte {
	bz, err := id.priv.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return bz
}

func (id *Identity) PubKey() []byte {
	return append([]byte(nil), id.pubBytes...)
}

func (id *Identity) Address() types.Address {
	return types.AddressFromPubKey(id.pubBytes)
}

func (id *Identity) Sign(msg []byte) ([]byte, error) {
	return schnorr.Sign(suite, id.priv, msg)
}

func (id *Identity) Verify(msg, sig, pubKey []byte) bool {
	pub, err := unmarshalPoint(pubKey)
	if err != nil {
		return false
	}
	return schnorr.Verify(suite, pub, msg, sig) == nil
}

func (id *Identity) EncryptFor(pubKey, msg []byte) ([]byte, error) {
	pub, err := unmarshalPoint(pubKey)
	if err != nil {
		return nil, err
	}
	return ecies.Encrypt(suite, pub, msg, nil)
}

// DecryptForSelf 不是发给本节点的密文返回ErrDecrypt
func (id *Identity) DecryptForSelf(ciphertext []byte) ([]byte, error) {
	msg, err := ecies.Decrypt(suite, id.priv, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(ErrDecrypt, err.Error())
	}
	return msg, nil
}

func (id *Identity) AddressOf(pubKey []byte) types.Address {
	return types.AddressFromPubKey(pubKey)
}

func unmarshalPoint(bz []byte) (kyber.Point, error) {
	p := suite.Point()
	if err := p.UnmarshalBinary(bz); err != nil {
		return nil, errors.Wrap(ErrInvalidPubKey, err.Error())
	}
	return p, nil
}
