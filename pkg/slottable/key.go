package slottable

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

var callSiteKeys = xsync.NewMapOf[uintptr, int64]()

// CallSiteKey returns a key identifying the source position of a call.
// skip counts stack frames above the caller of CallSiteKey, as in
// runtime.Caller. The key is derived from the file and line, so it is the
// same across runs of one build.
func CallSiteKey(skip int) int64 {
	var pcs [1]uintptr
	if runtime.Callers(skip+2, pcs[:]) == 0 {
		return 0
	}
	pc := pcs[0]
	key, _ := callSiteKeys.LoadOrCompute(pc, func() int64 {
		frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
		return int64(xxhash.Sum64String(frame.File + ":" + strconv.Itoa(frame.Line)))
	})
	return key
}

// CallSiteKeys returns the number of cached call sites.
func CallSiteKeys() int { return callSiteKeys.Size() }

// CompoundKey folds a group's key and object key into its parent's compound
// key. Compound keys identify a position in the group tree independently of
// table indices, which makes them suitable for persisting state.
func CompoundKey(parent, key int64, objectKey any) int64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(parent))
	binary.LittleEndian.PutUint64(buf[8:], uint64(key))
	d := xxhash.New()
	_, _ = d.Write(buf[:])
	if objectKey != nil {
		_, _ = fmt.Fprintf(d, "%T:%v", objectKey, objectKey)
	}
	return int64(d.Sum64())
}
