package chain

import (
	"time"

	"chainbft_vote/config"
	"chainbft_vote/consensus"
	cstypes "chainbft_vote/consensus/types"
	"chainbft_vote/overlay"
	"chainbft_vote/store"
	"chainbft_vote/types"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/service"
)

// Chain 一条链的投票核心：投票模块加上验证者私有网络，共用同一个ChainContext
type Chain struct {
	service.BaseService

	ctx     *types.ChainContext
	config  *config.Config
	voting  *consensus.Voting
	overlay *overlay.Overlay
}

func NewChain(ctx *types.ChainContext, cfg *config.Config, st store.Store) (*Chain, error) {
	voting, err := consensus.NewVoting(ctx, cfg.Voting)
	if err != nil {
		return nil, errors.Wrapf(err, "create voting for %s", ctx.ChainID)
	}
	ov, err := overlay.NewOverlay(ctx, cfg.Overlay, st)
	if err != nil {
		return nil, errors.Wrapf(err, "create overlay for %s", ctx.ChainID)
	}
	ov.SetVoteSink(voting.Submit)

	c := &Chain{
		ctx:     ctx,
		config:  cfg,
		voting:  voting,
		overlay: ov,
	}
	c.BaseService = *service.NewBaseService(ctx.Logger.With("module", "chain"), "CHAIN", c)
	return c, nil
}

func (c *Chain) ChainID() string {
	return c.ctx.ChainID
}

func (c *Chain) Context() *types.ChainContext {
	return c.ctx
}

func (c *Chain) Voting() *consensus.Voting {
	return c.voting
}

func (c *Chain) Overlay() *overlay.Overlay {
	return c.overlay
}

func (c *Chain) OnStart() error {
	if err := c.voting.Start(); err != nil {
		return err
	}
	if err := c.overlay.Start(); err != nil {
		if stopErr := c.voting.Stop(); stopErr != nil {
			err = multierror.Append(err, stopErr)
		}
		return err
	}
	c.Logger.Info("chain started.", "self", c.ctx.Self, "node", c.ctx.SelfNode)
	return nil
}

func (c *Chain) OnStop() {
	if err := c.stopComponents(); err != nil {
		c.Logger.Error("stop chain", "err", err)
	}
	c.Logger.Info("chain stopped.")
}

// 先停网络再停投票，网络停止时还会发送断开通知
func (c *Chain) stopComponents() error {
	var result *multierror.Error
	if err := c.overlay.Stop(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "overlay"))
	}
	if err := c.voting.Stop(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "voting"))
	}
	return result.ErrorOrNil()
}

// ----- 对调度模块暴露的接口 -----

func (c *Chain) BeginSlot(params consensus.SlotParams) (*consensus.VoteData, error) {
	if params.ChainID != "" && params.ChainID != c.ctx.ChainID {
		return nil, errors.Wrapf(types.ErrVoteWrongChain, "%s != %s", params.ChainID, c.ctx.ChainID)
	}
	return c.voting.BeginSlot(params)
}

// SubmitVoteMessage 投票进入验证队列
func (c *Chain) SubmitVoteMessage(msg *types.VoteMessage, from types.NodeID) error {
	if msg.ChainID != c.ctx.ChainID {
		return errors.Wrapf(types.ErrVoteWrongChain, "%s != %s", msg.ChainID, c.ctx.ChainID)
	}
	return c.voting.Submit(msg, from)
}

// BroadcastVote 本节点的投票先在本地计入，再发给私有网络
// 目录中没有可发送的成员时返回overlay.ErrNoConsensusPeers，本地计票仍然有效
func (c *Chain) BroadcastVote(vote *types.VoteMessage) error {
	if err := c.SubmitVoteMessage(vote, c.ctx.SelfNode); err != nil {
		return err
	}
	return c.overlay.BroadcastVote(vote)
}

func (c *Chain) ObserveCandidateBlock(header *types.BlockHeader) error {
	if header != nil && header.ChainID != "" && header.ChainID != c.ctx.ChainID {
		return errors.Wrapf(types.ErrVoteWrongChain, "%s != %s", header.ChainID, c.ctx.ChainID)
	}
	return c.voting.ObserveCandidateBlock(header)
}

func (c *Chain) GetResult(height uint64, voteRound uint8, stage types.VoteStage, timeout time.Duration) (*cstypes.VoteResultData, error) {
	return c.voting.GetResult(height, voteRound, stage, timeout)
}

func (c *Chain) IsDirectoryAvailable(percent int) bool {
	return c.overlay.IsDirectoryAvailable(percent)
}

func (c *Chain) OnIdentityAnnouncement(raw []byte, from types.NodeID) error {
	return c.overlay.OnIdentityAnnouncement(raw, from)
}

func (c *Chain) OnShare(raw []byte, from types.NodeID) error {
	return c.overlay.OnShare(raw, from)
}

func (c *Chain) OnDisconnect(raw []byte, from types.NodeID) error {
	return c.overlay.OnDisconnect(raw, from)
}

func (c *Chain) HandleEnvelope(env *overlay.Envelope, raw []byte, from types.NodeID) error {
	return c.overlay.HandleEnvelope(env, raw, from)
}

func (c *Chain) OnPeerDisconnected(nodeID types.NodeID) {
	c.overlay.OnPeerDisconnected(nodeID)
}

// Status 状态查询
type Status struct {
	ChainID   string                      `json:"chain_id"`
	Self      types.Address               `json:"self"`
	Available bool                        `json:"available"`
	Peers     int                         `json:"peers"`
	Slot      *consensus.VoteDataSnapshot `json:"slot,omitempty"`
}

func (c *Chain) Status(height uint64) Status {
	st := Status{
		ChainID:   c.ctx.ChainID,
		Self:      c.ctx.Self,
		Available: c.overlay.Group().IsAvailable(),
		Peers:     c.overlay.Group().Size(),
	}
	if vd := c.voting.Slot(height); vd != nil {
		snap := vd.Snapshot()
		st.Slot = &snap
	}
	return st
}
