package consensus

//                         AdvanceRound(r+1) (调度模块超时)
//            +--------------------------------------------------+
//            v                                                  |
//  +-------------------+  stage one 通过   +-------------------+  |
//  | StageOne(round r) +----------------->| StageTwo(round r) +--+
//  +---------+---------+                  +---------+---------+
//            |                                      | stage two 通过
//            | MarkPreConfirmed                     v
//            |                            +-------------------+
//            +--------------------------->|   SlotFinished    |
//                                         +-------------------+
//
//VoteData - 一个出块位置 (height, roundIndex, packingIndex) 的投票状态机
//	- VoteRoundData - 一次投票尝试，voteRound从0开始递增，255保留给已确认的高度
//		- VoteStageData - 一个阶段的投票，每个地址只计一票，结果只能设置一次
//	- 超前的投票(FUTURE)不会丢弃：同一出块位置直接合并到对应轮次，其他位置缓存到下一个slot
//	- 同一位置出现两个区块头时，hash大的作为主区块，另一个作为分叉证据保留
//
//Voting - 每条链一个，管理活跃的slot
//	- voteRoutine 单独的协程消费投票队列，验证委员会成员身份和签名后路由到对应高度的slot
//	- 尚未开始的高度的投票缓存在LRU里，BeginSlot时重放
//	- 结果和分叉证据通过EventSwitch发布
