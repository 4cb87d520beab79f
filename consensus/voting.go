package consensus

import (
	"strconv"
	"sync"
	"time"

	"chainbft_vote/config"
	cstypes "chainbft_vote/consensus/types"
	"chainbft_vote/types"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/cmap"
	"github.com/tendermint/tendermint/libs/service"
)

// 同一个未开始的高度最多缓存的投票数
const maxPendingVotesPerHeight = 4096

// ----- voteInfo -----
// 投票队列里的消息
type voteInfo struct {
	Vote   *types.VoteMessage
	NodeID types.NodeID
}

type pendingVotes struct {
	votes []voteInfo
}

// Voting 每条链一个：维护活跃的slot，单独的协程消费投票队列
type Voting struct {
	service.BaseService

	chain   *types.ChainContext
	config  *config.VotingConfig
	metrics *Metrics

	voteQueue chan voteInfo

	mtx        sync.Mutex
	slots      *cmap.CMap // height -> *VoteData
	lastHeight uint64
	started    bool       // 是否调用过BeginSlot
	future     *lru.Cache // height -> *pendingVotes
}

func NewVoting(chain *types.ChainContext, cfg *config.VotingConfig) (*Voting, error) {
	future, err := lru.New(cfg.FutureHeights)
	if err != nil {
		return nil, errors.Wrap(err, "create future height cache")
	}
	v := &Voting{
		chain:     chain,
		config:    cfg,
		metrics:   NewMetrics(chain.Metrics),
		voteQueue: make(chan voteInfo, cfg.QueueSize),
		slots:     cmap.NewCMap(),
		future:    future,
	}
	v.BaseService = *service.NewBaseService(chain.Logger.With("module", "voting"), "VOTING", v)
	return v, nil
}

func (v *Voting) Metrics() *Metrics {
	return v.metrics
}

func (v *Voting) OnStart() error {
	go v.voteRoutine()
	v.Logger.Info("voting routine started.")
	return nil
}

func (v *Voting) OnStop() {
	v.Logger.Info("voting stopped.")
}

func heightKey(height uint64) string {
	return strconv.FormatUint(height, 10)
}

// BeginSlot 开始一个新的出块位置
// 同一高度之前的slot里缓存的该位置的投票、以及LRU里缓存的该高度的投票都会重放到新slot
func (v *Voting) BeginSlot(params SlotParams) (*VoteData, error) {
	if params.ChainID == "" {
		params.ChainID = v.chain.ChainID
	}
	// 委员会规模以委员会来源为准
	size := v.chain.Committee.CommitteeSize(v.chain.ChainID, params.RoundIndex)
	if params.CommitteeSize == 0 {
		params.CommitteeSize = size
	} else if params.CommitteeSize != size {
		return nil, errors.Wrapf(ErrCommitteeSizeMismatch, "round index %d: %d != %d",
			params.RoundIndex, params.CommitteeSize, size)
	}
	vd, err := NewVoteData(params, WithEventSwitch(v.chain.Events), WithMetrics(v.metrics))
	if err != nil {
		return nil, err
	}
	vd.SetLogger(v.Logger.With("height", params.Height))

	v.mtx.Lock()
	if v.started && params.Height < v.lastHeight {
		v.mtx.Unlock()
		return nil, errors.Wrapf(ErrStaleSlot, "height %d < %d", params.Height, v.lastHeight)
	}

	var carried map[uint8]*cstypes.VoteRoundData
	if prev, ok := v.slots.Get(heightKey(params.Height)).(*VoteData); ok {
		carried = prev.TakeFuture(params.RoundIndex, params.PackingIndex)
	}
	v.slots.Set(heightKey(params.Height), vd)
	for _, key := range v.slots.Keys() {
		height, err := strconv.ParseUint(key, 10, 64)
		if err == nil && height < params.Height {
			v.slots.Delete(key)
		}
	}
	v.started = true
	v.lastHeight = params.Height
	v.metrics.ActiveSlots.Update(int64(v.slots.Size()))

	var pending []voteInfo
	if val, ok := v.future.Get(params.Height); ok {
		pending = val.(*pendingVotes).votes
		v.future.Remove(params.Height)
	}
	v.mtx.Unlock()

	for voteRound, rd := range carried {
		if err := vd.RecordVoteRound(rd, voteRound); err != nil {
			break
		}
	}
	for _, vi := range pending {
		if _, err := vd.AddVote(vi.Vote, vi.NodeID); err != nil {
			v.Logger.Debug("drop buffered vote", "vote", vi.Vote, "err", err)
		}
	}
	v.Logger.Info("begin slot", "height", params.Height, "round_index", params.RoundIndex,
		"packing_index", params.PackingIndex, "thresholds", params.Thresholds,
		"carried", len(carried), "buffered", len(pending))
	return vd, nil
}

// Slot 返回某个高度的活跃slot
func (v *Voting) Slot(height uint64) *VoteData {
	vd, _ := v.slots.Get(heightKey(height)).(*VoteData)
	return vd
}

// Submit 投票入队，队列满时直接丢弃
func (v *Voting) Submit(msg *types.VoteMessage, from types.NodeID) error {
	select {
	case v.voteQueue <- voteInfo{Vote: msg, NodeID: from}:
		return nil
	default:
		return ErrVoteQueueFull
	}
}

func (v *Voting) GetResult(height uint64, voteRound uint8, stage types.VoteStage, timeout time.Duration) (*cstypes.VoteResultData, error) {
	vd := v.Slot(height)
	if vd == nil {
		return nil, errors.Wrapf(ErrUnknownSlot, "height %d", height)
	}
	return vd.Get(voteRound, stage, timeout)
}

func (v *Voting) ObserveCandidateBlock(header *types.BlockHeader) error {
	if err := header.ValidateBasic(); err != nil {
		return err
	}
	vd := v.Slot(header.Height)
	if vd == nil {
		return errors.Wrapf(ErrUnknownSlot, "height %d", header.Height)
	}
	return vd.ObserveCandidateBlock(header)
}

// voteRoutine 唯一消费投票队列的协程
func (v *Voting) voteRoutine() {
	for {
		select {
		case <-v.Quit():
			v.Logger.Debug("voteRoutine quit.")
			return
		case vi := <-v.voteQueue:
			if err := v.handleVote(vi); err != nil {
				v.logVoteError(vi, err)
			}
		}
	}
}

func (v *Voting) logVoteError(vi voteInfo, err error) {
	switch errors.Cause(err) {
	case ErrStaleVote, ErrDuplicateVote, ErrSlotFinished:
		v.Logger.Debug("drop vote", "vote", vi.Vote, "peer", vi.NodeID, "err", err)
	case ErrInvalidSignature:
		v.Logger.Error("vote authentication failed", "vote", vi.Vote, "peer", vi.NodeID, "err", err)
	default:
		v.Logger.Info("reject vote", "vote", vi.Vote, "peer", vi.NodeID, "err", err)
	}
}

// handleVote 验证投票的来源后路由到对应高度
func (v *Voting) handleVote(vi voteInfo) error {
	vote := vi.Vote
	if err := vote.ValidateBasic(); err != nil {
		v.metrics.RejectedVotes.Inc(1)
		return err
	}
	if !v.chain.IsMember(vote.SignerAddress) {
		v.metrics.RejectedVotes.Inc(1)
		return errors.Wrap(ErrNotCommitteeMember, vote.SignerAddress.String())
	}
	pubKey, err := v.chain.PublicKeyOf(vote.SignerAddress)
	if err != nil {
		v.metrics.RejectedVotes.Inc(1)
		return errors.Wrap(ErrNotCommitteeMember, err.Error())
	}
	if err := types.VerifyVote(v.chain.Crypto, v.chain.ChainID, vote, pubKey); err != nil {
		v.metrics.RejectedVotes.Inc(1)
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}

	v.mtx.Lock()
	vd := v.Slot(vote.Height)
	if vd == nil {
		err := v.bufferLocked(vi)
		v.mtx.Unlock()
		return err
	}
	v.mtx.Unlock()

	_, err = vd.AddVote(vote, vi.NodeID)
	return err
}

// 还没有开始的高度缓存起来，已经过去的高度直接丢弃
func (v *Voting) bufferLocked(vi voteInfo) error {
	height := vi.Vote.Height
	if v.started && height <= v.lastHeight {
		v.metrics.StaleVotes.Inc(1)
		return ErrStaleVote
	}
	var pv *pendingVotes
	if val, ok := v.future.Get(height); ok {
		pv = val.(*pendingVotes)
	} else {
		pv = &pendingVotes{}
		v.future.Add(height, pv)
	}
	if len(pv.votes) >= maxPendingVotesPerHeight {
		return ErrFutureBufferFull
	}
	pv.votes = append(pv.votes, vi)
	return nil
}
