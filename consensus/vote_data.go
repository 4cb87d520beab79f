package consensus

import (
	"bytes"
	"sync"
	"time"

	cstypes "chainbft_vote/consensus/types"
	"chainbft_vote/types"

	jsoniter "github.com/json-iterator/go"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	tmtime "github.com/tendermint/tendermint/types/time"
)

const (
	EventVoteResult   = "VoteResult"
	EventForkEvidence = "ForkEvidence"
)

// 每个slot最多缓存的其他出块位置
const maxFuturePositions = 8

// SlotParams 创建VoteData需要的参数，门限由调度模块给出
type SlotParams struct {
	ChainID        string
	Height         uint64
	RoundIndex     uint64
	PackingIndex   uint32
	RoundStartTime time.Time
	CommitteeSize  int
	Thresholds     types.Thresholds
}

func (p SlotParams) ValidateBasic() error {
	return p.Thresholds.ValidateBasic(p.CommitteeSize)
}

type slotPosition struct {
	RoundIndex   uint64
	PackingIndex uint32
}

// VoteResultEvent 某个阶段得出结果时发布
type VoteResultEvent struct {
	ChainID      string                  `json:"chain_id"`
	Height       uint64                  `json:"height"`
	RoundIndex   uint64                  `json:"round_index"`
	PackingIndex uint32                  `json:"packing_index"`
	VoteRound    uint8                   `json:"vote_round"`
	VoteStage    types.VoteStage         `json:"vote_stage"`
	Result       *cstypes.VoteResultData `json:"result"`
}

// ForkEvidenceEvent 同一个slot出现两个不同的区块头
type ForkEvidenceEvent struct {
	ChainID string             `json:"chain_id"`
	Height  uint64             `json:"height"`
	First   *types.BlockHeader `json:"first"`
	Second  *types.BlockHeader `json:"second"`
}

type slotEvent struct {
	name string
	data events.EventData
}

// VoteData 一个出块位置的投票状态机
// 所有字段由mtx保护，等待结果时不持有锁
type VoteData struct {
	mtx     sync.Mutex
	logger  log.Logger
	evsw    events.EventSwitch
	metrics *Metrics

	params SlotParams

	blockHash    tmbytes.HexBytes
	firstHeader  *types.BlockHeader
	secondHeader *types.BlockHeader

	currentVoteRound uint8
	currentVoteStage types.VoteStage
	finished         bool
	finalResult      *cstypes.VoteResultData

	rounds  map[uint8]*cstypes.VoteRoundData
	futures map[slotPosition]map[uint8]*cstypes.VoteRoundData

	// 锁外发布的事件
	pending []slotEvent
}

type VoteDataOption func(*VoteData)

func WithEventSwitch(evsw events.EventSwitch) VoteDataOption {
	return func(d *VoteData) {
		d.evsw = evsw
	}
}

func WithMetrics(m *Metrics) VoteDataOption {
	return func(d *VoteData) {
		d.metrics = m
	}
}

func NewVoteData(params SlotParams, options ...VoteDataOption) (*VoteData, error) {
	if err := params.ValidateBasic(); err != nil {
		return nil, err
	}
	if params.RoundStartTime.IsZero() {
		params.RoundStartTime = tmtime.Now()
	}
	d := &VoteData{
		logger:           log.NewNopLogger(),
		metrics:          NopMetrics(),
		params:           params,
		currentVoteRound: 0,
		currentVoteStage: types.VoteStageOne,
		rounds:           make(map[uint8]*cstypes.VoteRoundData),
		futures:          make(map[slotPosition]map[uint8]*cstypes.VoteRoundData),
	}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

func (d *VoteData) SetLogger(logger log.Logger) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.logger = logger
}

func (d *VoteData) Params() SlotParams {
	return d.params
}

func (d *VoteData) Height() uint64 {
	return d.params.Height
}

func (d *VoteData) position() slotPosition {
	return slotPosition{RoundIndex: d.params.RoundIndex, PackingIndex: d.params.PackingIndex}
}

func (d *VoteData) currentPositionLocked() types.VotePosition {
	return types.VotePosition{
		RoundIndex:   d.params.RoundIndex,
		PackingIndex: d.params.PackingIndex,
		VoteRound:    d.currentVoteRound,
		VoteStage:    d.currentVoteStage,
	}
}

// Classify 判断投票相对当前位置是过期、当前还是超前
func (d *VoteData) Classify(msg *types.VoteMessage) VoteClass {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return classifyPosition(msg.Position(), d.currentPositionLocked())
}

// CurrentPosition 当前的(voteRound, voteStage)
func (d *VoteData) CurrentPosition() (uint8, types.VoteStage) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.currentVoteRound, d.currentVoteStage
}

func (d *VoteData) IsFinished() bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.finished
}

func (d *VoteData) FinalResult() *cstypes.VoteResultData {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.finalResult
}

// IsDuplicate 该地址在这一轮这一阶段是否已经计过票
func (d *VoteData) IsDuplicate(voteRound uint8, stage types.VoteStage, addr types.Address) bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.isDuplicateLocked(voteRound, stage, addr)
}

func (d *VoteData) isDuplicateLocked(voteRound uint8, stage types.VoteStage, addr types.Address) bool {
	round, ok := d.rounds[voteRound]
	if !ok {
		return false
	}
	sd := round.Stage(stage)
	return sd != nil && sd.HasVoted(addr)
}

func (d *VoteData) getOrCreateRoundLocked(voteRound uint8) *cstypes.VoteRoundData {
	round, ok := d.rounds[voteRound]
	if !ok {
		round = cstypes.NewVoteRoundData(tmtime.Now())
		d.rounds[voteRound] = round
	}
	return round
}

// AddVote 投票队列的入口：过期的丢弃，当前的计票，超前的合并或者缓存
func (d *VoteData) AddVote(msg *types.VoteMessage, sender types.NodeID) (VoteClass, error) {
	defer d.flushEvents()
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.finished {
		return VoteClassPrevious, ErrSlotFinished
	}
	if msg.Height != d.params.Height {
		return VoteClassPrevious, ErrWrongSlot
	}
	if msg.VoteRound == types.FinalVoteRound {
		return VoteClassPrevious, ErrReservedVoteRound
	}
	if !msg.VoteStage.IsValid() {
		return VoteClassPrevious, types.ErrVoteInvalidStage
	}

	class := classifyPosition(msg.Position(), d.currentPositionLocked())
	switch class {
	case VoteClassPrevious:
		d.metrics.StaleVotes.Inc(1)
		return class, ErrStaleVote
	case VoteClassCurrentStageOne, VoteClassCurrentStageTwo:
		return class, d.recordVoteLocked(msg, sender)
	}

	pos := slotPosition{RoundIndex: msg.RoundIndex, PackingIndex: msg.PackingIndex}
	if pos != d.position() {
		return class, d.bufferFutureLocked(pos, msg, sender)
	}

	// 同一出块位置的超前投票，包成只有一票的轮次合并进来
	if d.isDuplicateLocked(msg.VoteRound, msg.VoteStage, msg.SignerAddress) {
		return class, ErrDuplicateVote
	}
	rd := cstypes.NewVoteRoundData(tmtime.Now())
	rd.AddParticipant(sender)
	if err := rd.Stage(msg.VoteStage).AddVote(msg); err != nil {
		return class, err
	}
	d.recordVoteRoundLocked(rd, msg.VoteRound)
	return class, nil
}

// RecordVote 计入一票并检查门限
func (d *VoteData) RecordVote(msg *types.VoteMessage, sender types.NodeID) error {
	defer d.flushEvents()
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.finished {
		return ErrSlotFinished
	}
	return d.recordVoteLocked(msg, sender)
}

func (d *VoteData) recordVoteLocked(msg *types.VoteMessage, sender types.NodeID) error {
	round := d.getOrCreateRoundLocked(msg.VoteRound)
	round.AddParticipant(sender)

	sd := round.Stage(msg.VoteStage)
	if sd == nil {
		return types.ErrVoteInvalidStage
	}
	if err := sd.AddVote(msg); err != nil {
		return err
	}
	d.evaluateLocked(msg.VoteRound, sd)
	return nil
}

// RecordVoteRound 把另一份轮次数据合并进来，投票逐条重放到对应阶段
func (d *VoteData) RecordVoteRound(rd *cstypes.VoteRoundData, voteRound uint8) error {
	defer d.flushEvents()
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.finished {
		return ErrSlotFinished
	}
	d.recordVoteRoundLocked(rd, voteRound)
	return nil
}

func (d *VoteData) recordVoteRoundLocked(rd *cstypes.VoteRoundData, voteRound uint8) {
	round := d.getOrCreateRoundLocked(voteRound)
	for _, id := range rd.Participants() {
		round.AddParticipant(id)
	}
	for _, stage := range []types.VoteStage{types.VoteStageOne, types.VoteStageTwo} {
		sd := round.Stage(stage)
		for _, vote := range rd.Stage(stage).Votes() {
			if sd.HasVoted(vote.SignerAddress) {
				continue
			}
			if err := sd.AddVote(vote); err != nil {
				d.logger.Debug("skip merged vote", "vote", vote, "err", err)
			}
		}
		d.evaluateLocked(voteRound, sd)
		if d.finished {
			return
		}
	}
}

func (d *VoteData) bufferFutureLocked(pos slotPosition, msg *types.VoteMessage, sender types.NodeID) error {
	rounds, ok := d.futures[pos]
	if !ok {
		if len(d.futures) >= maxFuturePositions {
			return ErrFutureBufferFull
		}
		rounds = make(map[uint8]*cstypes.VoteRoundData)
		d.futures[pos] = rounds
	}
	rd, ok := rounds[msg.VoteRound]
	if !ok {
		rd = cstypes.NewVoteRoundData(tmtime.Now())
		rounds[msg.VoteRound] = rd
	}
	rd.AddParticipant(sender)
	return rd.Stage(msg.VoteStage).AddVote(msg)
}

// TakeFuture 取出缓存的某个出块位置的轮次数据，所有权转移给调用方
func (d *VoteData) TakeFuture(roundIndex uint64, packingIndex uint32) map[uint8]*cstypes.VoteRoundData {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	pos := slotPosition{RoundIndex: roundIndex, PackingIndex: packingIndex}
	rounds := d.futures[pos]
	delete(d.futures, pos)
	return rounds
}

func (d *VoteData) evaluateLocked(voteRound uint8, sd *cstypes.VoteStageData) {
	if sd.Result().IsResolved() {
		return
	}
	res, ok := sd.Evaluate(d.params.Thresholds, d.params.CommitteeSize)
	if !ok {
		return
	}
	d.resolveStageLocked(voteRound, sd.Stage(), res)
}

// resolveStage 设置某一阶段的结果，是唯一能够结束slot的路径
func (d *VoteData) resolveStage(voteRound uint8, stage types.VoteStage, res *cstypes.VoteResultData) bool {
	defer d.flushEvents()
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.resolveStageLocked(voteRound, stage, res)
}

func (d *VoteData) resolveStageLocked(voteRound uint8, stage types.VoteStage, res *cstypes.VoteResultData) bool {
	if d.finished {
		return false
	}
	round := d.getOrCreateRoundLocked(voteRound)
	sd := round.Stage(stage)
	if sd == nil || !sd.Result().Resolve(res) {
		return false
	}

	if voteRound > d.currentVoteRound && voteRound != types.FinalVoteRound {
		d.moveToRoundLocked(voteRound)
	}
	if stage == types.VoteStageOne && res.Success &&
		voteRound == d.currentVoteRound && d.currentVoteStage == types.VoteStageOne {
		d.currentVoteStage = types.VoteStageTwo
	}
	if stage == types.VoteStageTwo {
		round.MarkFinished()
		if res.Success {
			d.finished = true
			d.finalResult = res
		}
	}

	d.logger.Info("vote stage resolved", "height", d.params.Height, "round", voteRound, "stage", stage, "result", res)
	d.pending = append(d.pending, slotEvent{
		name: EventVoteResult,
		data: VoteResultEvent{
			ChainID:      d.params.ChainID,
			Height:       d.params.Height,
			RoundIndex:   d.params.RoundIndex,
			PackingIndex: d.params.PackingIndex,
			VoteRound:    voteRound,
			VoteStage:    stage,
			Result:       res,
		},
	})
	return true
}

// 切换到新的轮次，如果该轮第一阶段已经通过则直接进入第二阶段
func (d *VoteData) moveToRoundLocked(voteRound uint8) {
	d.currentVoteRound = voteRound
	d.currentVoteStage = types.VoteStageOne
	if round, ok := d.rounds[voteRound]; ok {
		if res, ok := round.Stage(types.VoteStageOne).Result().Peek(); ok && res.Success {
			d.currentVoteStage = types.VoteStageTwo
		}
	}
	d.metrics.VoteRound.Update(int64(voteRound))
}

// AdvanceRound 调度模块在超时后推进轮次，轮次只增不减
func (d *VoteData) AdvanceRound(to uint8) bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.finished || to <= d.currentVoteRound || to == types.FinalVoteRound {
		return false
	}
	d.moveToRoundLocked(to)
	d.logger.Debug("advance vote round", "height", d.params.Height, "round", to, "stage", d.currentVoteStage)
	return true
}

// MarkPreConfirmed 高度已经通过其他途径确认，用保留轮次直接结束slot
func (d *VoteData) MarkPreConfirmed(blockHash []byte) bool {
	return d.resolveStage(types.FinalVoteRound, types.VoteStageTwo, &cstypes.VoteResultData{
		Success:          true,
		WinningBlockHash: append(tmbytes.HexBytes(nil), blockHash...),
	})
}

// IsSplit 总票数达到MinCover但没有任何hash达到MinPass，调度模块据此提前换轮
func (d *VoteData) IsSplit(voteRound uint8, stage types.VoteStage) bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	round, ok := d.rounds[voteRound]
	if !ok {
		return false
	}
	sd := round.Stage(stage)
	return sd != nil && sd.IsSplit(d.params.Thresholds)
}

// Get 等待某一轮某一阶段的结果，超时返回ErrVoteTimeout
func (d *VoteData) Get(voteRound uint8, stage types.VoteStage, timeout time.Duration) (*cstypes.VoteResultData, error) {
	if !stage.IsValid() {
		return nil, types.ErrVoteInvalidStage
	}
	d.mtx.Lock()
	if d.finished {
		// 结束后不再创建新的轮次
		res := d.finalResult
		if round, ok := d.rounds[voteRound]; ok {
			if stageRes, ok := round.Stage(stage).Result().Peek(); ok {
				res = stageRes
			}
		}
		d.mtx.Unlock()
		return res, nil
	}
	result := d.getOrCreateRoundLocked(voteRound).Stage(stage).Result()
	d.mtx.Unlock()

	res, ok := result.Wait(timeout)
	if !ok {
		return nil, ErrVoteTimeout
	}
	return res, nil
}

// ObserveCandidateBlock 记录该slot的候选区块头，两个不同的头按hash大小排序
func (d *VoteData) ObserveCandidateBlock(header *types.BlockHeader) error {
	if err := header.ValidateBasic(); err != nil {
		return err
	}
	defer d.flushEvents()
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.finished {
		return ErrSlotFinished
	}
	if !header.SameSlot(d.params.Height, d.params.RoundIndex, d.params.PackingIndex) {
		return ErrWrongSlot
	}

	switch {
	case d.firstHeader == nil:
		d.firstHeader = header.Copy()
		d.blockHash = d.firstHeader.Hash
		return nil
	case bytes.Equal(d.firstHeader.Hash, header.Hash):
		return nil
	case d.secondHeader != nil:
		if !bytes.Equal(d.secondHeader.Hash, header.Hash) {
			d.logger.Info("ignore third candidate header", "height", d.params.Height, "header", header)
		}
		return nil
	}

	// 分叉：hash大的作为主区块
	if types.CompareHash(header, d.firstHeader) > 0 {
		d.secondHeader = d.firstHeader
		d.firstHeader = header.Copy()
		d.blockHash = d.firstHeader.Hash
	} else {
		d.secondHeader = header.Copy()
	}
	d.metrics.ForkEvidence.Inc(1)
	d.logger.Info("fork evidence", "height", d.params.Height, "first", d.firstHeader, "second", d.secondHeader)
	d.pending = append(d.pending, slotEvent{
		name: EventForkEvidence,
		data: ForkEvidenceEvent{
			ChainID: d.params.ChainID,
			Height:  d.params.Height,
			First:   d.firstHeader.Copy(),
			Second:  d.secondHeader.Copy(),
		},
	})
	return nil
}

func (d *VoteData) BlockHash() tmbytes.HexBytes {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return append(tmbytes.HexBytes(nil), d.blockHash...)
}

func (d *VoteData) FirstHeader() *types.BlockHeader {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.firstHeader.Copy()
}

// SecondHeader 分叉证据，没有分叉时为nil
func (d *VoteData) SecondHeader() *types.BlockHeader {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.secondHeader.Copy()
}

func (d *VoteData) flushEvents() {
	d.mtx.Lock()
	evs := d.pending
	d.pending = nil
	evsw := d.evsw
	d.mtx.Unlock()

	if evsw == nil {
		return
	}
	for _, ev := range evs {
		evsw.FireEvent(ev.name, ev.data)
	}
}

//-----------------------------------------------------------------------------

type RoundSnapshot struct {
	VoteRound     uint8          `json:"vote_round"`
	CreatedAt     time.Time      `json:"created_at"`
	Participants  []types.NodeID `json:"participants"`
	StageOneVotes int            `json:"stage_one_votes"`
	StageTwoVotes int            `json:"stage_two_votes"`
	Finished      bool           `json:"finished"`
}

// VoteDataSnapshot slot状态的只读快照，用于状态查询
type VoteDataSnapshot struct {
	Height           uint64           `json:"height"`
	RoundIndex       uint64           `json:"round_index"`
	PackingIndex     uint32           `json:"packing_index"`
	RoundStartTime   time.Time        `json:"round_start_time"`
	CommitteeSize    int              `json:"committee_size"`
	Thresholds       types.Thresholds `json:"thresholds"`
	BlockHash        tmbytes.HexBytes `json:"block_hash"`
	HasForkEvidence  bool             `json:"has_fork_evidence"`
	CurrentVoteRound uint8            `json:"current_vote_round"`
	CurrentVoteStage types.VoteStage  `json:"current_vote_stage"`
	Finished         bool             `json:"finished"`
	Rounds           []RoundSnapshot  `json:"rounds"`
}

func (d *VoteData) Snapshot() VoteDataSnapshot {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	snap := VoteDataSnapshot{
		Height:           d.params.Height,
		RoundIndex:       d.params.RoundIndex,
		PackingIndex:     d.params.PackingIndex,
		RoundStartTime:   d.params.RoundStartTime,
		CommitteeSize:    d.params.CommitteeSize,
		Thresholds:       d.params.Thresholds,
		BlockHash:        append(tmbytes.HexBytes(nil), d.blockHash...),
		HasForkEvidence:  d.secondHeader != nil,
		CurrentVoteRound: d.currentVoteRound,
		CurrentVoteStage: d.currentVoteStage,
		Finished:         d.finished,
	}
	for r := 0; r <= int(types.FinalVoteRound); r++ {
		round, ok := d.rounds[uint8(r)]
		if !ok {
			continue
		}
		snap.Rounds = append(snap.Rounds, RoundSnapshot{
			VoteRound:     uint8(r),
			CreatedAt:     round.CreatedAt,
			Participants:  round.Participants(),
			StageOneVotes: round.Stage(types.VoteStageOne).Size(),
			StageTwoVotes: round.Stage(types.VoteStageTwo).Size(),
			Finished:      round.IsFinished(),
		})
	}
	return snap
}

func (s VoteDataSnapshot) JSONString() string {
	str, _ := jsoniter.MarshalToString(s)
	return str
}
