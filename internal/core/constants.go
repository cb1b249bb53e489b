package core

import "time"

// SourceTag is attached to every mirrored post ahead of its own hashtags.
const SourceTag = "mastodon_bookmark"

// Sync retry defaults
const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 2 * time.Second
)

// Timeout defaults for archiving operations
const (
	DefaultArchiveTimeout   = 35 * time.Second
	DefaultNetworkIdleDelay = 500 * time.Millisecond
)

// Resource inlining defaults
const (
	DefaultInlineTimeout   = 10 * time.Second
	DefaultMaxResourceSize = 5 * 1024 * 1024
)
