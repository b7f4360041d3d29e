package constants

import "time"

// Default configuration constants
const (
	// DefaultDevice is the test driver node opened when none is configured
	DefaultDevice = "/dev/nvme0"

	// DefaultLockFile keeps a second tester process off the device
	DefaultLockFile = "/tmp/tnvme.lock"

	// DefaultMetaBufferSize is the metadata buffer size used by the CLI scenarios
	DefaultMetaBufferSize = 512

	// DefaultAdminQueueEntries is the admin ring depth used by the CLI
	DefaultAdminQueueEntries = 2

	// DefaultIOQueueEntries is the IO ring depth used by the CLI
	DefaultIOQueueEntries = 2

	// DefaultLBASize is the logical block size assumed for write/read payloads
	DefaultLBASize = 512
)

// Timing constants for the reap path
const (
	// DefaultReapTimeout bounds ReapInquiryWaitSpecify when the caller passes zero
	DefaultReapTimeout = 2 * time.Second

	// DefaultPollInterval is the sleep between reap inquiries
	DefaultPollInterval = time.Millisecond
)

// Identify/admin payload sizes
const (
	// IdentifyDataSize is the size of every Identify data structure
	IdentifyDataSize = 4096
)
