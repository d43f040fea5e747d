package models

import "errors"

// Sentinel errors for asset processing.
var (
	// Processing errors
	ErrProbeFailed     = errors.New("failed to probe source")
	ErrEncodeFailed    = errors.New("encoder job failed")
	ErrManifestWrite   = errors.New("failed to write manifest")
	ErrFileDisappeared = errors.New("source file disappeared")
	ErrContextCanceled = errors.New("context canceled")

	// Collaborator errors
	ErrWatcher       = errors.New("watcher error")
	ErrUploadFailed  = errors.New("failed to upload output tree")
	ErrPublishFailed = errors.New("failed to publish completion event")

	// Storage errors
	ErrAssetNotFound = errors.New("asset not found")

	// Configuration errors
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrUnknownProfile = errors.New("unknown profile")
	ErrInvalidFormat  = errors.New("invalid target format")
)
