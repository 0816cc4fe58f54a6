package domain

// ReviewDashboard сводка очереди ревью для консоли
type ReviewDashboard struct {
	Proposed int64 `json:"proposed"` // ждут решения
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	Executed int64 `json:"executed"`
	Failed   int64 `json:"failed"`

	EnabledPolicies int64   `json:"enabled_policies"`
	LearnedPolicies int64   `json:"learned_policies"`
	ApprovalRate    float64 `json:"approval_rate"`
}
