package orchestration

import "errors"

var (
	// ErrDuplicateSession is returned when a call id already has a live
	// session. The existing session is left untouched.
	ErrDuplicateSession = errors.New("session already live for call")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionClosed    = errors.New("session closed")

	// ErrSynthesisActive is returned by Speak while another synthesis for the
	// same session has not finished or been cancelled.
	ErrSynthesisActive = errors.New("synthesis already active")

	// ErrLowConfidenceDiscarded marks a transcript fragment dropped for
	// falling under the minimum confidence. It is never fatal.
	ErrLowConfidenceDiscarded = errors.New("low confidence fragment discarded")

	ErrGateTimeout     = errors.New("knowledge base lookup timed out")
	errNoKnowledgeBase = errors.New("no knowledge base configured")
)
