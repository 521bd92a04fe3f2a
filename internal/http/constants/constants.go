package constants

import "time"

const (
	// RequestTimeout bounds one API request, worker round trips included.
	RequestTimeout = 30 * time.Second

	MaxDuration     = 86400
	DefaultJobLimit = 100
	MaxJobLimit     = 1000
)

// BlacklistedTargetChars may never appear in a target since targets are
// substituted into shell commands.
var BlacklistedTargetChars = []string{"'", "\"", "[", "]", "{", "}", "(", ")", ";", "|", "&", "%", "#", "@", "`", "$", "\\", " ", "\n"}
