package ai

// FailureKind classifies why a completion could not be produced.
type FailureKind string

const (
	FailureTransport     FailureKind = "transport"
	FailureProvider      FailureKind = "provider"
	FailureConfiguration FailureKind = "configuration"
)

// Failure is a completion error reduced to something a user can read.
type Failure struct {
	Kind    FailureKind
	Message string
}

// Result is either an Ok completion or an Err failure. The zero value is an empty Ok.
type Result struct {
	content string
	failure *Failure
}

// Ok wraps generated assistant text.
func Ok(content string) Result {
	return Result{content: content}
}

// Err wraps a failure with its diagnostic message.
func Err(kind FailureKind, message string) Result {
	return Result{failure: &Failure{Kind: kind, Message: message}}
}

// OK reports whether the completion succeeded.
func (r Result) OK() bool {
	return r.failure == nil
}

// Content returns the generated text; empty for failures.
func (r Result) Content() string {
	return r.content
}

// Failure returns the failure details, or nil on success.
func (r Result) Failure() *Failure {
	return r.failure
}
