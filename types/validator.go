package types

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/crypto"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

// Validator 委员会成员在链上登记的身份
type Validator struct {
	Address Address          `json:"address"`
	PubKey  tmbytes.HexBytes `json:"pub_key"`
	Name    string           `json:"name,omitempty"`
}

// NewValidator 由公钥推出地址
func NewValidator(pubKey []byte, name string) *Validator {
	return &Validator{
		Address: AddressFromPubKey(pubKey),
		PubKey:  append(tmbytes.HexBytes(nil), pubKey...),
		Name:    name,
	}
}

func (v *Validator) ValidateBasic() error {
	if v == nil {
		return errors.New("nil validator")
	}
	if len(v.PubKey) == 0 {
		return errors.New("validator does not have a public key")
	}
	if len(v.Address) != crypto.AddressSize {
		return fmt.Errorf("validator address is the wrong size: %v", v.Address)
	}
	if !v.Address.Equal(AddressFromPubKey(v.PubKey)) {
		return errors.New("validator address does not match its public key")
	}
	return nil
}

func (v *Validator) Copy() *Validator {
	vCopy := *v
	vCopy.Address = append(Address(nil), v.Address...)
	vCopy.PubKey = append(tmbytes.HexBytes(nil), v.PubKey...)
	return &vCopy
}

func (v *Validator) String() string {
	if v == nil {
		return "nil-Validator"
	}
	return fmt.Sprintf("Validator{%v %v %X}", v.Name, v.Address, tmbytes.Fingerprint(v.PubKey))
}

// Bytes 用于计算委员会hash
func (v *Validator) Bytes() []byte {
	bz, err := tmjson.Marshal(v)
	if err != nil {
		panic(err)
	}
	return bz
}
