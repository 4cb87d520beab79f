package privval

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chainbft_vote/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto/tmhash"
)

func tempKeyFile(t *testing.T) (string, func()) {
	dir, err := ioutil.TempDir("", "privval_test")
	require.NoError(t, err)
	return filepath.Join(dir, "priv_validator_key.json"), func() { os.RemoveAll(dir) }
}

func TestGenSaveAndLoadFilePV(t *testing.T) {
	keyFile, clean := tempKeyFile(t)
	defer clean()

	pv := GenFilePV(keyFile)
	pv.Save()

	loaded, err := loadFilePV(keyFile)
	require.NoError(t, err)
	assert.Equal(t, pv.GetAddress(), loaded.GetAddress())
	assert.Equal(t, pv.GetPubKey(), loaded.GetPubKey())
	assert.Equal(t, pv.Key.PrivKey, loaded.Key.PrivKey)

	// 再次LoadOrGen不会覆盖已有的密钥
	again := LoadOrGenFilePV(keyFile)
	assert.Equal(t, pv.GetAddress(), again.GetAddress())
}

func TestLoadBrokenKeyFile(t *testing.T) {
	keyFile, clean := tempKeyFile(t)
	defer clean()

	require.NoError(t, ioutil.WriteFile(keyFile, []byte(`{"priv_key":"00"}`), 0600))
	_, err := loadFilePV(keyFile)
	assert.Error(t, err)
}

func TestFilePVSignVote(t *testing.T) {
	keyFile, clean := tempKeyFile(t)
	defer clean()
	pv := GenFilePV(keyFile)

	vote := &types.VoteMessage{
		ChainID:   "PRIVVAL_TEST",
		Height:    1,
		VoteStage: types.VoteStageOne,
		BlockHash: tmhash.Sum([]byte("block")),
		SentTime:  time.Now().UTC(),
	}
	require.NoError(t, pv.SignVote("PRIVVAL_TEST", vote))
	require.NoError(t, vote.ValidateBasic())
	assert.NoError(t, types.VerifyVote(pv.Identity(), "PRIVVAL_TEST", vote, pv.GetPubKey()))

	val := pv.Validator("val-0")
	assert.NoError(t, val.ValidateBasic())
	assert.Equal(t, pv.GetAddress(), val.Address)
}
