package hospital

import "errors"

var (
	ErrNotFound        = errors.New("hospital: not found")
	ErrImageNotFound   = errors.New("hospital: image not found")
	ErrTooManyImages   = errors.New("hospital: image limit reached")
	ErrUnknownFacility = errors.New("hospital: unknown facility code")
	ErrNoImages        = errors.New("hospital: no images in request")
)
