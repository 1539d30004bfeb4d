package objects

import "fmt"

// ErrorRecord represents a terminating error reported by a PowerShell host.
type ErrorRecord struct {
	Message               string
	ExceptionType         string
	FullyQualifiedErrorId string
	Category              string
	ScriptStackTrace      string
}

// Error implements the error interface.
func (e *ErrorRecord) Error() string {
	switch {
	case e.ExceptionType != "" && e.FullyQualifiedErrorId != "":
		return fmt.Sprintf("%s (%s): %s", e.ExceptionType, e.FullyQualifiedErrorId, e.Message)
	case e.ExceptionType != "":
		return fmt.Sprintf("%s: %s", e.ExceptionType, e.Message)
	default:
		return e.Message
	}
}

// ErrorRecordFromRecord builds an ErrorRecord from the properties of a
// serialized error object.
func ErrorRecordFromRecord(r Record) *ErrorRecord {
	e := &ErrorRecord{}
	e.Message, _ = r.String("Message")
	e.ExceptionType, _ = r.String("ExceptionType")
	e.FullyQualifiedErrorId, _ = r.String("FullyQualifiedErrorId")
	e.Category, _ = r.String("Category")
	e.ScriptStackTrace, _ = r.String("ScriptStackTrace")
	return e
}
