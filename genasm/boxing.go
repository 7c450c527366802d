package genasm

// These constants mirror package value's NaN-boxing layout bit for bit.
// genasm does not import package value; it keeps this copy of the
// constants instead, kept in sync with package value by hand. Spec §6
// requires every assembler backend to agree on exactly one encoding.
// See value.Value's doc comment for the authoritative definition.
const (
	qnan        uint64 = 0x7FFC000000000000
	signBit     uint64 = 1 << 63
	tagMask     uint64 = 0x7
	tagFalse    uint64 = 0
	tagTrue     uint64 = 1
	tagNull     uint64 = 2
	tagInt      uint64 = 3
	pointerMask uint64 = 0x0000FFFFFFFFFFFF
)

func isNumber(bits uint64) bool { return bits&qnan != qnan }

func isTruthy(bits uint64) bool { return bits != (qnan|tagFalse) && bits != (qnan|tagNull) }

func isNull(bits uint64) bool { return bits == (qnan | tagNull) }

func boxBool(b bool) uint64 {
	if b {
		return qnan | tagTrue
	}
	return qnan | tagFalse
}

func unboxBool(bits uint64) bool { return bits == (qnan | tagTrue) }

func boxObject(handle uint64) uint64 { return signBit | qnan | (handle & pointerMask) }

func unboxObject(bits uint64) uint64 { return bits & pointerMask }

func boxInt(i int32) uint64 { return qnan | tagInt | (uint64(uint32(i)) << 3) }

func unboxInt(bits uint64) int32 { return int32(uint32(bits >> 3)) }
