package amqp

import (
	"encoding/json"
	"time"

	"maenroll/internal/core"
)

// DatasetUpdatedMessage announces that a combine run replaced the persisted
// dataset. Consumers re-read the file; the message only carries a summary.
type DatasetUpdatedMessage struct {
	RunID        string           `json:"run_id"`
	Path         string           `json:"path"`
	LatestPeriod core.PeriodKey   `json:"latest_period"`
	Periods      []core.PeriodKey `json:"periods"`
	Rows         int              `json:"rows"`
	Timestamp    time.Time        `json:"timestamp"`
}

// NewDatasetUpdatedMessage stamps a message with the current time.
func NewDatasetUpdatedMessage(runID, path string, timeline []core.PeriodKey, rows int) *DatasetUpdatedMessage {
	m := &DatasetUpdatedMessage{
		RunID:     runID,
		Path:      path,
		Periods:   append([]core.PeriodKey(nil), timeline...),
		Rows:      rows,
		Timestamp: time.Now(),
	}
	if len(timeline) > 0 {
		m.LatestPeriod = timeline[len(timeline)-1]
	}
	return m
}

func (m *DatasetUpdatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func DatasetUpdatedMessageFromJSON(data []byte) (*DatasetUpdatedMessage, error) {
	var msg DatasetUpdatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
