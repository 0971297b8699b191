package entity

import "time"

// LogMessage is the record shape written to the log collection.
type LogMessage struct {
	Time     time.Time `json:"time" bson:"time"`
	Module   string    `json:"module" bson:"module"`
	Level    string    `json:"level" bson:"level"`
	Text     string    `json:"text" bson:"text"`
	ErrorMsg string    `json:"error,omitempty" bson:"error,omitempty"`
}

func (m *LogMessage) DataType() string {
	return "log-message"
}
