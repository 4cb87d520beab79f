package overlay

import "github.com/pkg/errors"

var (
	ErrDecrypt            = errors.New("payload is not addressed to this node")
	ErrUnknownSender      = errors.New("unknown sender")
	ErrNotCommitteeMember = errors.New("address is not a committee member")
	ErrInvalidSignature   = errors.New("invalid envelope signature")
	ErrWrongChain         = errors.New("envelope belongs to another chain")
	ErrQueueFull          = errors.New("overlay queue is full")
	ErrNoVoteSink         = errors.New("no vote sink registered")
	ErrNoConsensusPeers   = errors.New("no consensus peer to send to")
)
