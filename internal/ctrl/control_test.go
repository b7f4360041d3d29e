package ctrl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

func TestRequestCodes(t *testing.T) {
	tests := []struct {
		name string
		req  uint32
		nr   uint32
		size uint32
		dir  uint32
	}{
		{"SEND_64B_CMD", ioctlSend64B, uapi.NVME_SEND_64B_CMD, 40, 3},
		{"REAP", ioctlReap, uapi.NVME_REAP, 32, 3},
		{"REAP_INQUIRY", ioctlReapInquiry, uapi.NVME_REAP_INQUIRY, 12, 3},
		{"RING_SQ_DOORBELL", ioctlRingDoorbell, uapi.NVME_RING_SQ_DOORBELL, 2, 1},
		{"DEVICE_STATE", ioctlDeviceState, uapi.NVME_DEVICE_STATE, 4, 1},
		{"GET_DEVICE_METRICS", ioctlDeviceMetrics, uapi.NVME_GET_DEVICE_METRICS, 8, 2},
		{"TOXIC_64B_DWORD", ioctlToxic64BDword, uapi.NVME_TOXIC_64B_DWORD, 16, 1},
		{"DUMP_METRICS", ioctlDumpMetrics, uapi.NVME_DUMP_METRICS, 16, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.nr, tt.req&0xff, "nr")
			assert.Equal(t, uint32('N'), (tt.req>>8)&0xff, "magic")
			assert.Equal(t, tt.size, (tt.req>>16)&0x3fff, "size")
			assert.Equal(t, tt.dir, tt.req>>30, "direction")
		})
	}
}

func TestCapDecode(t *testing.T) {
	capReg := uint64(1023) | 1<<16 | uint64(20)<<24 | uint64(1)<<32 | uint64(1)<<48

	assert.Equal(t, uint32(1024), MaxQueueEntries(capReg))
	assert.True(t, ContiguousRequired(capReg))
	assert.Equal(t, 10*time.Second, ReadyTimeout(capReg))
	assert.Equal(t, 8, DoorbellStride(capReg))
	assert.Equal(t, 8192, MinPageSize(capReg))
	assert.Equal(t, 4096, MinPageSize(0))
}

func TestRegisters(t *testing.T) {
	r := Registers{VS: 0x00010400, CC: 1, CSTS: 3}

	assert.True(t, r.Enabled())
	assert.True(t, r.Ready())
	assert.True(t, r.Fatal())
	assert.Equal(t, "1.4.0", r.Version())
	assert.False(t, Registers{}.Ready())
}

func TestOpenMissing(t *testing.T) {
	_, err := Open("/nonexistent/nvme99")
	assert.Error(t, err)
}
