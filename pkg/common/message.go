package common

// VoteDecision is the answer given to a cluster shutdown request
type VoteDecision string

const (
	// VoteApprove allows the cluster to shut down
	VoteApprove VoteDecision = `approve`
	// VoteVeto blocks the cluster shutdown
	VoteVeto VoteDecision = `veto`
)

func (v VoteDecision) String() string {
	return string(v)
}

// Decision converts an approval flag into a VoteDecision
func Decision(approve bool) VoteDecision {
	if approve {
		return VoteApprove
	}
	return VoteVeto
}

// RegistryOp names a resource registry operation
type RegistryOp string

const (
	// RegistryAdd adds a node entry
	RegistryAdd RegistryOp = `add`
	// RegistryRemove removes a node entry
	RegistryRemove RegistryOp = `remove`
	// RegistryClear removes every entry
	RegistryClear RegistryOp = `clear`
)

func (o RegistryOp) String() string {
	return string(o)
}
