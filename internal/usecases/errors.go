package usecases

import "errors"

var (
	// ErrInvalidRequest marks caller mistakes; the gateway answers 400.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrMalformedModelOutput means the model replied with something that
	// is not the JSON shape we asked for.
	ErrMalformedModelOutput = errors.New("malformed model output")
)
