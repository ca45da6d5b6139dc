package wasmhost

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

func readBytes(m api.Module, offset, byteCount uint32) []byte {
	buf, ok := m.Memory().Read(offset, byteCount)
	if !ok {
		panic(fmt.Sprintf("Memory.Read(%d, %d) out of range", offset, byteCount))
	}
	return buf
}

func readString(m api.Module, offset, byteCount uint32) string {
	return string(readBytes(m, offset, byteCount))
}

// writeBytes copies as much of data as fits in byteCount bytes at offset and
// returns how many bytes it wrote.
func writeBytes(m api.Module, offset, byteCount uint32, data []byte) uint32 {
	if uint32(len(data)) < byteCount {
		byteCount = uint32(len(data))
	}
	if !m.Memory().Write(offset, data[:byteCount]) {
		panic(fmt.Sprintf("Memory.Write(%d, %d) out of range", offset, byteCount))
	}
	return byteCount
}

func boolResult(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
