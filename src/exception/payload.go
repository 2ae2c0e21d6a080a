package exception

import "errors"

// Payload is the structured error value handed to the transport.
type Payload struct {
	Kind           Kind   `json:"kind"`
	Message        string `json:"message"`
	Retryable      bool   `json:"retryable"`
	OutcomeUnknown bool   `json:"outcome_unknown,omitempty"`
}

// ToPayload flattens any error into the transport shape. Errors that did not
// go through the taxonomy are reported as an unexpected exchange response.
func ToPayload(err error) Payload {
	if err == nil {
		return Payload{}
	}
	var e *Error
	if errors.As(err, &e) {
		return Payload{
			Kind:           e.Kind,
			Message:        e.Error(),
			Retryable:      e.Retryable(),
			OutcomeUnknown: e.OutcomeUnknown,
		}
	}
	return Payload{
		Kind:    KindResponse,
		Message: err.Error(),
	}
}
