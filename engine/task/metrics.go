package task

// Metrics tracks one task inside an action. Unset pointer fields are omitted
// so a task the pipeline never reached serializes as {"is_attempted": false}.
type Metrics struct {
	IsAttempted        bool     `json:"is_attempted"`
	IsConditionsPassed *bool    `json:"is_conditions_passed,omitempty"`
	IsSuccess          *bool    `json:"is_success,omitempty"`
	ExecutionTimeMS    *float64 `json:"execution_time_ms,omitempty"`
	MSSinceActionStart *float64 `json:"ms_since_action_start,omitempty"`
	IsReverted         *bool    `json:"is_reverted,omitempty"`
	Error              *string  `json:"error,omitempty"`
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// SetSuccess is how a handler signals the outcome. A handler that never calls
// it is treated as failed.
func (m *Metrics) SetSuccess(ok bool) {
	m.IsSuccess = &ok
}

func (m *Metrics) Succeeded() bool {
	return m.IsSuccess != nil && *m.IsSuccess
}

func (m *Metrics) SetConditionsPassed(ok bool) {
	m.IsConditionsPassed = &ok
}

func (m *Metrics) SetError(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	m.Error = &msg
}

func (m *Metrics) SetExecutionTime(ms float64) {
	m.ExecutionTimeMS = &ms
}

func (m *Metrics) SetSinceActionStart(ms float64) {
	m.MSSinceActionStart = &ms
}

func (m *Metrics) MarkReverted() {
	reverted := true
	m.IsReverted = &reverted
}
