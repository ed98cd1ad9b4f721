package types

// SignalAction is the classification attached to a candidate signal by the
// upstream sentiment pipeline.
type SignalAction string

const (
	SignalActionBuy  SignalAction = "Buy"
	SignalActionSell SignalAction = "Sell"
	SignalActionHold SignalAction = "Hold"
)

// CandidateSignal is one scored trading candidate. Signals are ephemeral:
// produced once per planning cycle and consumed once.
type CandidateSignal struct {
	Ticker         string       `json:"ticker"`
	Action         SignalAction `json:"action"`
	SentimentScore float64      `json:"sentiment_score"` // [-1, 1]
	DurationScore  float64      `json:"duration_score"`  // [0, 1]
	Reasoning      string       `json:"reasoning"`
}

// SignalEnvelope carries one cycle's candidate signals together with the
// macro-risk context supplied by the environment observer.
type SignalEnvelope struct {
	Signals     []CandidateSignal `json:"signals"`
	EnvBias     float64           `json:"global_env_bias"` // [0, 1]
	MacroReason string            `json:"macro_reason"`
}
