package uapi

import (
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
)

// Test structure sizes match driver expectations
func TestStructSizes(t *testing.T) {
	tests := []struct {
		name     string
		size     uintptr
		expected int
	}{
		{"NvmeCreateAdmnQ", unsafe.Sizeof(NvmeCreateAdmnQ{}), 8},
		{"NvmePrepSQ", unsafe.Sizeof(NvmePrepSQ{}), 12},
		{"NvmePrepCQ", unsafe.Sizeof(NvmePrepCQ{}), 12},
		{"Nvme64BSend", unsafe.Sizeof(Nvme64BSend{}), 40},
		{"NvmeReapInquiry", unsafe.Sizeof(NvmeReapInquiry{}), 12},
		{"NvmeReap", unsafe.Sizeof(NvmeReap{}), 32},
		{"NvmeRWGeneric", unsafe.Sizeof(NvmeRWGeneric{}), 24},
		{"BackdoorInject", unsafe.Sizeof(BackdoorInject{}), 16},
		{"NvmeFile", unsafe.Sizeof(NvmeFile{}), 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if int(tt.size) != tt.expected {
				t.Errorf("%s size = %d, want %d", tt.name, tt.size, tt.expected)
			}
		})
	}
}

func TestIoctlEncode(t *testing.T) {
	// _IOWR('N', 5, 40)
	got := IoWR(NVME_SEND_64B_CMD, 40)
	want := uint32(3)<<30 | uint32(40)<<16 | uint32('N')<<8 | 5
	if got != want {
		t.Errorf("IoWR = 0x%x, want 0x%x", got, want)
	}

	if IoW(NVME_RING_SQ_DOORBELL, 2)>>30 != _IOC_WRITE {
		t.Error("IoW direction bits wrong")
	}
}

func TestMmapOffset(t *testing.T) {
	const page = 4096
	if off := MmapOffset(MMR_SQ, 0, page); off != 0 {
		t.Errorf("admin SQ offset = %d, want 0", off)
	}
	if off := MmapOffset(MMR_CQ, 3, page); off != int64((1<<18)|3)*page {
		t.Errorf("CQ 3 offset = %d", off)
	}
	if off := MmapOffset(MMR_META, MaxMetaUniqueID, page); off != int64((2<<18)|MaxMetaUniqueID)*page {
		t.Errorf("meta offset = %d", off)
	}
}

func TestCERoundTrip(t *testing.T) {
	ce := CE{
		DW0:    0xdeadbeef,
		SQHD:   7,
		SQID:   3,
		CID:    0x1234,
		Phase:  true,
		Status: StatusInvalidQID | 1<<14,
	}

	var got CE
	if err := UnmarshalCE(MarshalCE(&ce), &got); err != nil {
		t.Fatalf("UnmarshalCE: %v", err)
	}
	if diff := cmp.Diff(ce, got); diff != "" {
		t.Errorf("CE mismatch (-want +got):\n%s", diff)
	}
	if got.SCT() != SCT_COMMAND_SPECIFIC || got.SC() != 0x01 {
		t.Errorf("SCT/SC = %d/%d", got.SCT(), got.SC())
	}
	if !got.DNR() {
		t.Error("DNR should be set")
	}
}

func TestUnmarshalCEShort(t *testing.T) {
	var ce CE
	if err := UnmarshalCE(make([]byte, 8), &ce); err != ErrInsufficientData {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}
