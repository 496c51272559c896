package models

import "time"

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Alert is a grouped notification about Count observations of one
// (severity, source) pair.
type Alert struct {
	Severity Severity
	Source   string
	Message  string
	Count    int
	At       time.Time
}
