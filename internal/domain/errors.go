package domain

import "errors"

var (
	ErrInitialization      = errors.New("engine initialization failed")
	ErrNotInitialized      = errors.New("engine not initialized")
	ErrGenerationInFlight  = errors.New("generation already in flight")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrRecognition         = errors.New("recognition failed")
	ErrStream              = errors.New("generation stream aborted")
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidAttachment   = errors.New("invalid image attachment")
	ErrInvalidFeedbackType = errors.New("invalid feedback type")
)
