package privval

import (
	"fmt"
	"io/ioutil"

	"chainbft_vote/crypto"
	"chainbft_vote/types"

	"github.com/pkg/errors"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/libs/tempfile"
)

//-------------------------------------------------------------------------------

// FilePVKey stores the immutable part of the validator key.
type FilePVKey struct {
	Address types.Address    `json:"address"`
	PubKey  tmbytes.HexBytes `json:"pub_key"`
	PrivKey tmbytes.HexBytes `json:"priv_key"`

	filePath string
}

// Save persists the FilePVKey to its filePath.
func (pvKey FilePVKey) Save() {
	outFile := pvKey.filePath
	if outFile == "" {
		panic("cannot save validator key: filePath not set")
	}

	jsonBytes, err := tmjson.MarshalIndent(pvKey, "", "  ")
	if err != nil {
		panic(err)
	}
	err = tempfile.WriteFileAtomic(outFile, jsonBytes, 0600)
	if err != nil {
		panic(err)
	}
}

//-------------------------------------------------------------------------------

// FilePV 保存在磁盘上的验证者密钥
// 同一把ed25519密钥用于投票签名和私有网络的加解密
type FilePV struct {
	Key FilePVKey

	identity *crypto.Identity
}

// NewFilePV generates a new validator from the given identity and path.
func NewFilePV(identity *crypto.Identity, keyFilePath string) *FilePV {
	return &FilePV{
		Key: FilePVKey{
			Address:  identity.Address(),
			PubKey:   identity.PubKey(),
			PrivKey:  identity.PrivKeyBytes(),
			filePath: keyFilePath,
		},
		identity: identity,
	}
}

// GenFilePV generates a new validator with randomly generated private key
// and sets the filePath, but does not call Save().
func GenFilePV(keyFilePath string) *FilePV {
	return NewFilePV(crypto.GenIdentity(), keyFilePath)
}

// LoadFilePV loads a FilePV from the filePath. If the file does not exist or
// is broken, the program will exit.
func LoadFilePV(keyFilePath string) *FilePV {
	pv, err := loadFilePV(keyFilePath)
	if err != nil {
		tmos.Exit(err.Error())
	}
	return pv
}

func loadFilePV(keyFilePath string) (*FilePV, error) {
	keyJSONBytes, err := ioutil.ReadFile(keyFilePath)
	if err != nil {
		return nil, err
	}
	pvKey := FilePVKey{}
	if err := tmjson.Unmarshal(keyJSONBytes, &pvKey); err != nil {
		return nil, errors.Wrapf(err, "error reading validator key from %v", keyFilePath)
	}

	identity, err := crypto.NewIdentity(pvKey.PrivKey)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading validator key from %v", keyFilePath)
	}
	// overwrite pubkey and address for convenience
	pv := NewFilePV(identity, keyFilePath)
	return pv, nil
}

// LoadOrGenFilePV loads a FilePV from the given filePath
// or else generates a new one and saves it to the filePath.
func LoadOrGenFilePV(keyFilePath string) *FilePV {
	var pv *FilePV
	if tmos.FileExists(keyFilePath) {
		pv = LoadFilePV(keyFilePath)
	} else {
		pv = GenFilePV(keyFilePath)
		pv.Save()
	}
	return pv
}

// Identity 返回可以直接注入各条链的Crypto实现
func (pv *FilePV) Identity() *crypto.Identity {
	return pv.identity
}

// GetAddress returns the address of the validator.
func (pv *FilePV) GetAddress() types.Address {
	return pv.Key.Address
}

// GetPubKey returns the public key of the validator.
func (pv *FilePV) GetPubKey() []byte {
	return pv.Key.PubKey
}

// SignVote signs a canonical representation of the vote, along with the
// chainID.
func (pv *FilePV) SignVote(chainID string, vote *types.VoteMessage) error {
	vote.SignerAddress = pv.GetAddress()
	if err := types.SignVote(pv.identity, chainID, vote); err != nil {
		return fmt.Errorf("error signing vote: %v", err)
	}
	return nil
}

// Validator 本节点在委员会中的身份
func (pv *FilePV) Validator(name string) *types.Validator {
	return types.NewValidator(pv.Key.PubKey, name)
}

// Save persists the FilePV to disk.
func (pv *FilePV) Save() {
	pv.Key.Save()
}

// String returns a string representation of the FilePV.
func (pv *FilePV) String() string {
	return fmt.Sprintf(
		"PrivValidator{%v}",
		pv.GetAddress(),
	)
}
