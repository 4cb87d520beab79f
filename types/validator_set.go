// fork from github.com/tendermint/tendermint/types/validator_set.go
package types

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/crypto/merkle"
)

var ErrUnknownValidator = errors.New("validator is not in the committee")

// ValidatorSet represent a committee at a given height. Validators are kept
// sorted by address so Hash and the aggregated signatures are deterministic.
//
// NOTE: Not goroutine-safe.
type ValidatorSet struct {
	Validators []*Validator `json:"validators"`
}

// NewValidatorSet copies valz and sorts it by address.
func NewValidatorSet(valz []*Validator) *ValidatorSet {
	vals := &ValidatorSet{Validators: validatorListCopy(valz)}
	sort.Slice(vals.Validators, func(i, j int) bool {
		return vals.Validators[i].Address.Compare(vals.Validators[j].Address) < 0
	})
	return vals
}

func (vals *ValidatorSet) ValidateBasic() error {
	if vals.IsNilOrEmpty() {
		return errors.New("validator set is nil or empty")
	}
	for idx, val := range vals.Validators {
		if err := val.ValidateBasic(); err != nil {
			return fmt.Errorf("invalid validator #%d: %w", idx, err)
		}
		if idx > 0 && vals.Validators[idx-1].Address.Equal(val.Address) {
			return fmt.Errorf("duplicate validator %v", val.Address)
		}
	}
	return nil
}

// IsNilOrEmpty returns true if validator set is nil or empty.
func (vals *ValidatorSet) IsNilOrEmpty() bool {
	return vals == nil || len(vals.Validators) == 0
}

// Makes a copy of the validator list.
func validatorListCopy(valsList []*Validator) []*Validator {
	if valsList == nil {
		return nil
	}
	valsCopy := make([]*Validator, len(valsList))
	for i, val := range valsList {
		valsCopy[i] = val.Copy()
	}
	return valsCopy
}

// Copy each validator into a new ValidatorSet.
func (vals *ValidatorSet) Copy() *ValidatorSet {
	return &ValidatorSet{
		Validators: validatorListCopy(vals.Validators),
	}
}

// HasAddress returns true if address given is in the validator set, false -
// otherwise.
func (vals *ValidatorSet) HasAddress(address Address) bool {
	_, val := vals.GetByAddress(address)
	return val != nil
}

// GetByAddress returns an index of the validator with address and validator
// itself (copy) if found. Otherwise, -1 and nil are returned.
func (vals *ValidatorSet) GetByAddress(address Address) (index int32, val *Validator) {
	idx := sort.Search(len(vals.Validators), func(i int) bool {
		return vals.Validators[i].Address.Compare(address) >= 0
	})
	if idx < len(vals.Validators) && vals.Validators[idx].Address.Equal(address) {
		return int32(idx), vals.Validators[idx].Copy()
	}
	return -1, nil
}

// Size returns the length of the validator set.
func (vals *ValidatorSet) Size() int {
	return len(vals.Validators)
}

// Addresses returns the committee addresses in set order.
func (vals *ValidatorSet) Addresses() []Address {
	addrs := make([]Address, len(vals.Validators))
	for i, val := range vals.Validators {
		addrs[i] = append(Address(nil), val.Address...)
	}
	return addrs
}

// Hash returns the Merkle root hash build using validators (as leaves) in the
// set.
func (vals *ValidatorSet) Hash() []byte {
	bzs := make([][]byte, len(vals.Validators))
	for i, val := range vals.Validators {
		bzs[i] = val.Bytes()
	}
	return merkle.HashFromByteSlices(bzs)
}

// Iterate will run the given function over the set.
func (vals *ValidatorSet) Iterate(fn func(index int, val *Validator) bool) {
	for i, val := range vals.Validators {
		stop := fn(i, val.Copy())
		if stop {
			break
		}
	}
}

// String returns a string representation of ValidatorSet.
func (vals *ValidatorSet) String() string {
	if vals == nil {
		return "nil-ValidatorSet"
	}
	var valStrings []string
	vals.Iterate(func(index int, val *Validator) bool {
		valStrings = append(valStrings, val.String())
		return false
	})
	return fmt.Sprintf("ValidatorSet{%s}", strings.Join(valStrings, " "))
}

//----------------------------------------

// StaticCommittee 以固定的ValidatorSet作为各条链的委员会，实现CommitteeSource
type StaticCommittee struct {
	mtx  sync.RWMutex
	sets map[string]*ValidatorSet
}

var _ CommitteeSource = (*StaticCommittee)(nil)

func NewStaticCommittee() *StaticCommittee {
	return &StaticCommittee{sets: make(map[string]*ValidatorSet)}
}

// SetValidators 替换某条链的委员会
func (c *StaticCommittee) SetValidators(chainID string, vals *ValidatorSet) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.sets[chainID] = vals.Copy()
}

func (c *StaticCommittee) get(chainID string) *ValidatorSet {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.sets[chainID]
}

func (c *StaticCommittee) CurrentCommittee(chainID string) []Address {
	vals := c.get(chainID)
	if vals == nil {
		return nil
	}
	return vals.Addresses()
}

// CommitteeSize 静态委员会不随roundIndex变化
func (c *StaticCommittee) CommitteeSize(chainID string, roundIndex uint64) int {
	vals := c.get(chainID)
	if vals.IsNilOrEmpty() {
		return 0
	}
	return vals.Size()
}

func (c *StaticCommittee) PublicKey(chainID string, addr Address) ([]byte, error) {
	vals := c.get(chainID)
	if vals == nil {
		return nil, errors.Wrap(ErrUnknownValidator, chainID)
	}
	_, val := vals.GetByAddress(addr)
	if val == nil {
		return nil, errors.Wrap(ErrUnknownValidator, addr.String())
	}
	return val.PubKey, nil
}
