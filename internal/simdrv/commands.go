package simdrv

import (
	"encoding/binary"

	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// Opcodes the simulated controller understands
const (
	opcDeleteIOSQ = 0x00
	opcCreateIOSQ = 0x01
	opcDeleteIOCQ = 0x04
	opcCreateIOCQ = 0x05
	opcIdentify   = 0x06

	opcFlush = 0x00
	opcWrite = 0x01
	opcRead  = 0x02
)

func dword(cmd []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(cmd[i*4:])
}

// execute runs one command and returns completion DW0 and status
func (d *Driver) execute(q *subQueue, cmd []byte, data []byte) (uint32, uint16) {
	if q.id == 0 {
		return d.executeAdmin(cmd, data)
	}
	return d.executeNVM(cmd, data)
}

func (d *Driver) executeAdmin(cmd []byte, data []byte) (uint32, uint16) {
	dw10, dw11 := dword(cmd, 10), dword(cmd, 11)
	qid := uint16(dw10)
	qsize := dw10>>16 + 1

	switch cmd[0] {
	case opcDeleteIOSQ:
		if _, ok := d.sqs[qid]; !ok || qid == 0 {
			return 0, uapi.StatusInvalidQID
		}
		delete(d.sqs, qid)
		return 0, uapi.StatusSuccess

	case opcDeleteIOCQ:
		if _, ok := d.cqs[qid]; !ok || qid == 0 {
			return 0, uapi.StatusInvalidQID
		}
		for _, sq := range d.sqs {
			if sq.id != 0 && sq.cqid == qid {
				return 0, uapi.StatusInvalidQDeletion
			}
		}
		delete(d.cqs, qid)
		return 0, uapi.StatusSuccess

	case opcCreateIOCQ:
		if _, ok := d.cqs[qid]; ok || qid == 0 {
			return 0, uapi.StatusInvalidQID
		}
		if qsize < uapi.MinQueueEntries || qsize > d.mqes()+1 {
			return 0, uapi.StatusMaxQSizeExceeded
		}
		prep, ok := d.prepCQ[qid]
		if !ok || prep.elements != qsize {
			return 0, uapi.StatusInvalidField
		}
		if dw11&1 == 0 {
			if len(data) < int(qsize)*uapi.CESize {
				return 0, uapi.StatusInvalidField
			}
			prep.ring = data
		}
		prep.irq = dw11&2 != 0
		prep.vector = uint16(dw11 >> 16)
		delete(d.prepCQ, qid)
		d.cqs[qid] = prep
		return 0, uapi.StatusSuccess

	case opcCreateIOSQ:
		cqid := uint16(dw11 >> 16)
		if _, ok := d.cqs[cqid]; !ok || cqid == 0 {
			return 0, uapi.StatusInvalidCQ
		}
		if _, ok := d.sqs[qid]; ok || qid == 0 {
			return 0, uapi.StatusInvalidQID
		}
		if qsize < uapi.MinQueueEntries || qsize > d.mqes()+1 {
			return 0, uapi.StatusMaxQSizeExceeded
		}
		prep, ok := d.prepSQ[qid]
		if !ok || prep.elements != qsize {
			return 0, uapi.StatusInvalidField
		}
		if dw11&1 == 0 {
			if len(data) < int(qsize)*uapi.CommandSize {
				return 0, uapi.StatusInvalidField
			}
			prep.ring = data
		}
		prep.cqid = cqid
		delete(d.prepSQ, qid)
		d.sqs[qid] = prep
		return 0, uapi.StatusSuccess

	case opcIdentify:
		if len(data) < 4096 {
			return 0, uapi.StatusInvalidField
		}
		clear(data[:4096])
		switch uint8(dw10) {
		case 0x00: // namespace
			binary.LittleEndian.PutUint64(data[0:], NamespaceBlocks)  // NSZE
			binary.LittleEndian.PutUint64(data[8:], NamespaceBlocks)  // NCAP
			binary.LittleEndian.PutUint64(data[16:], NamespaceBlocks) // NUSE
			data[128+2] = 9                                           // LBAF0.LBADS: 512 bytes
		case 0x01: // controller
			binary.LittleEndian.PutUint16(data[0:], 0x1b36)
			copy(data[4:24], "SIMDRV00000000000001")
			copy(data[24:64], "go-tnvme simulated controller           ")
			binary.LittleEndian.PutUint32(data[516:], 1) // NN
		default:
			return 0, uapi.StatusInvalidField
		}
		return 0, uapi.StatusSuccess
	}
	return 0, uapi.StatusInvalidOpcode
}

func (d *Driver) executeNVM(cmd []byte, data []byte) (uint32, uint16) {
	nsid := dword(cmd, 1)

	switch cmd[0] {
	case opcFlush:
		return 0, uapi.StatusSuccess
	case opcWrite, opcRead:
	default:
		return 0, uapi.StatusInvalidOpcode
	}

	if nsid != 1 {
		return 0, uapi.StatusInvalidNamespace
	}
	slba := uint64(dword(cmd, 11))<<32 | uint64(dword(cmd, 10))
	nlb := uint64(uint16(dword(cmd, 12))) + 1
	if slba+nlb > NamespaceBlocks {
		return 0, uapi.StatusLBAOutOfRange
	}
	if uint64(len(data)) < nlb*LBASize {
		return 0, uapi.StatusInvalidField
	}

	for i := uint64(0); i < nlb; i++ {
		chunk := data[i*LBASize : (i+1)*LBASize]
		if cmd[0] == opcWrite {
			d.blocks[slba+i] = append([]byte(nil), chunk...)
		} else if blk, ok := d.blocks[slba+i]; ok {
			copy(chunk, blk)
		} else {
			clear(chunk)
		}
	}
	return 0, uapi.StatusSuccess
}
