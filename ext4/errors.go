package ext4

import "errors"

// Error kinds. These are the sentinels surfaced by engine
// operations; Node methods propagate them directly (see Translate).
var (
	ErrNotFound      = errors.New("ext4: not found")
	ErrAlreadyExists = errors.New("ext4: already exists")
	ErrInvalidInput  = errors.New("ext4: invalid input")
	ErrInvalidData   = errors.New("ext4: invalid on-disk data")
	ErrNoSpace       = errors.New("ext4: no space left")
	ErrUnsupported   = errors.New("ext4: unsupported operation")
	ErrIO            = errors.New("ext4: i/o error")
	ErrCorrupted     = errors.New("ext4: corrupted")
	ErrIsADirectory  = errors.New("ext4: is a directory")
	ErrNotADirectory = errors.New("ext4: not a directory")
)
