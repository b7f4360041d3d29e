package tnvme

import "github.com/ehrlich-b/go-tnvme/internal/constants"

// Re-export constants for public API
const (
	DefaultDevice            = constants.DefaultDevice
	DefaultLockFile          = constants.DefaultLockFile
	DefaultMetaBufferSize    = constants.DefaultMetaBufferSize
	DefaultAdminQueueEntries = constants.DefaultAdminQueueEntries
	DefaultIOQueueEntries    = constants.DefaultIOQueueEntries
	DefaultReapTimeout       = constants.DefaultReapTimeout
	DefaultPollInterval      = constants.DefaultPollInterval
)
