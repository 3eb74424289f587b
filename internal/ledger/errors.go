package ledger

import "errors"

var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrBrokenChainLinkage = errors.New("broken chain linkage")
	ErrInvalidProof       = errors.New("invalid proof of work")
	ErrInvalidReward      = errors.New("invalid reward transaction")
	ErrStaleChainTip      = errors.New("stale chain tip")
	ErrIOFailure          = errors.New("io failure")
	ErrRewardSubmission   = errors.New("reward transactions cannot be submitted")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrDuplicate          = errors.New("transaction already pending")
	ErrChainNotLonger     = errors.New("candidate chain is not longer")
)
