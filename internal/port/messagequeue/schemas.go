package messagequeue

// RefundRequestedPayload is the schema for ledger.refund_requested messages.
type RefundRequestedPayload struct {
	DisputeKey      string `json:"dispute_key"`
	PaymentInfoHash string `json:"payment_info_hash"`
	Nonce           uint64 `json:"nonce"`
	BlockNumber     uint64 `json:"block_number"`
}

// EvidenceAddedPayload is the schema for ledger.evidence_added messages.
type EvidenceAddedPayload struct {
	DisputeKey  string `json:"dispute_key"`
	Role        uint8  `json:"role"`
	Submitter   string `json:"submitter"`
	BlockNumber uint64 `json:"block_number"`
}

// RulingPayload is the schema for arbiter.rulings messages.
type RulingPayload struct {
	EvaluationID   string   `json:"evaluation_id"`
	DisputeKey     string   `json:"dispute_key"`
	Decision       string   `json:"decision"`
	Enacted        string   `json:"enacted"`
	Confidence     float64  `json:"confidence"`
	CommitmentHash string   `json:"commitment_hash"`
	Seed           uint64   `json:"seed"`
	Model          string   `json:"model"`
	EvidenceTx     string   `json:"evidence_tx"`
	RulingTx       string   `json:"ruling_tx"`
	RefundTx       string   `json:"refund_tx,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// RulingFailedPayload is the schema for arbiter.rulings.failed messages.
type RulingFailedPayload struct {
	DisputeKey string `json:"dispute_key"`
	Kind       string `json:"kind"`
	Error      string `json:"error"`
	Retryable  bool   `json:"retryable"`
}

// ReplayPayload is the schema for arbiter.replays messages.
type ReplayPayload struct {
	DisputeKey         string `json:"dispute_key"`
	Match              bool   `json:"match"`
	ModelMatch         bool   `json:"model_match"`
	OriginalCommitment string `json:"original_commitment,omitempty"`
	ReplayCommitment   string `json:"replay_commitment"`
	SeedSource         string `json:"seed_source"`
}
