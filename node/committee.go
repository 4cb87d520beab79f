package node

import (
	"io/ioutil"
	"sort"

	"chainbft_vote/types"

	"github.com/pkg/errors"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/tempfile"
)

// CommitteeDoc 各条链的委员会文件，作为静态的委员会来源
type CommitteeDoc struct {
	Chains map[string][]*types.Validator `json:"chains"`
}

func (doc *CommitteeDoc) ValidateBasic() error {
	if len(doc.Chains) == 0 {
		return errors.New("committee doc has no chain")
	}
	for chainID, vals := range doc.Chains {
		if len(vals) == 0 {
			return errors.Errorf("chain %s has an empty committee", chainID)
		}
		if err := types.NewValidatorSet(vals).ValidateBasic(); err != nil {
			return errors.Wrapf(err, "chain %s", chainID)
		}
	}
	return nil
}

// AddValidator 加入委员会，已存在的地址会被替换
func (doc *CommitteeDoc) AddValidator(chainID string, val *types.Validator) {
	if doc.Chains == nil {
		doc.Chains = make(map[string][]*types.Validator)
	}
	vals := doc.Chains[chainID]
	for i, v := range vals {
		if v.Address.Equal(val.Address) {
			vals[i] = val
			return
		}
	}
	doc.Chains[chainID] = append(vals, val)
}

func (doc *CommitteeDoc) ChainIDs() []string {
	ids := make([]string, 0, len(doc.Chains))
	for chainID := range doc.Chains {
		ids = append(ids, chainID)
	}
	sort.Strings(ids)
	return ids
}

// Committee 转换成StaticCommittee
func (doc *CommitteeDoc) Committee() *types.StaticCommittee {
	committee := types.NewStaticCommittee()
	for chainID, vals := range doc.Chains {
		committee.SetValidators(chainID, types.NewValidatorSet(vals))
	}
	return committee
}

func (doc *CommitteeDoc) SaveAs(file string) error {
	bz, err := tmjson.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return tempfile.WriteFileAtomic(file, bz, 0644)
}

func LoadCommitteeDoc(file string) (*CommitteeDoc, error) {
	bz, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "read committee file")
	}
	doc := &CommitteeDoc{}
	if err := tmjson.Unmarshal(bz, doc); err != nil {
		return nil, errors.Wrapf(err, "decode committee file %s", file)
	}
	if err := doc.ValidateBasic(); err != nil {
		return nil, err
	}
	return doc, nil
}
