package domain

type Action string

const (
	ActionLock         Action = "lock"
	ActionUnlock       Action = "unlock"
	ActionSetLimit     Action = "set_limit"
	ActionRename       Action = "rename"
	ActionAllow        Action = "allow"
	ActionBlock        Action = "block"
	ActionKick         Action = "kick"
	ActionClaim        Action = "claim"
	ActionTransfer     Action = "transfer"
	ActionDelete       Action = "delete"
	ActionApproveClaim Action = "approve_claim"
	ActionDenyClaim    Action = "deny_claim"
)

var knownActions = map[Action]bool{
	ActionLock: true, ActionUnlock: true, ActionSetLimit: true, ActionRename: true,
	ActionAllow: true, ActionBlock: true, ActionKick: true, ActionClaim: true,
	ActionTransfer: true, ActionDelete: true, ActionApproveClaim: true, ActionDenyClaim: true,
}

func (a Action) Valid() bool {
	return knownActions[a]
}
