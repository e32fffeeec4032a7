// Package kfmt provides a minimal, allocation-free Printf implementation
// that is safe to call from interrupt context and from code that runs before
// the Go allocator has been bootstrapped.
package kfmt

import "io"

// numBufSize defines the scratch buffer size for formatting numbers. It is
// large enough for a 64-bit value in base 8 plus sign and padding.
const numBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numBuf [numBufSize]byte

	// byteBuf is a shared single-byte buffer used to emit individual
	// characters without converting strings to byte slices (which would
	// allocate).
	byteBuf = []byte{0}

	// earlyBuffer captures Printf output generated before the host
	// installs an output sink.
	earlyBuffer ringBuffer

	// outputSink is the io.Writer that receives Printf output. While nil,
	// output is redirected to earlyBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for Printf calls to w and drains any output
// accumulated in the early buffer into it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyBuffer)
	}
}

// GetOutputSink returns the current Printf target. It returns nil if no sink
// has been installed yet.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf formats its arguments and writes them to the active output sink. If
// no sink is installed the output is captured by a ring buffer and replayed
// by the next SetOutputSink call.
//
// The supported subset of formatting verbs is:
//
//	%s  string or []byte
//	%o  integer, base 8
//	%d  integer, base 10
//	%x  integer, base 16 (lower-case)
//	%t  boolean
//
// A decimal width may precede the verb. Strings and base-10 integers are
// left-padded with spaces, base-8 and base-16 integers with zeroes.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes the formatted output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextArg int
		i       int
	)

	for i < len(format) {
		ch := format[i]
		if ch != '%' {
			emitByte(w, ch)
			i++
			continue
		}

		// Parse the optional width followed by the verb.
		i++
		padLen := 0
	scanVerb:
		for ; i < len(format); i++ {
			ch = format[i]
			switch {
			case ch == '%':
				emitByte(w, '%')
				i++
				break scanVerb
			case ch >= '0' && ch <= '9':
				padLen = padLen*10 + int(ch-'0')
			case ch == 'd' || ch == 'x' || ch == 'o' || ch == 's' || ch == 't':
				if nextArg >= len(args) {
					write(w, errMissingArg)
					i++
					break scanVerb
				}

				switch ch {
				case 'o':
					fmtInt(w, args[nextArg], 8, padLen)
				case 'd':
					fmtInt(w, args[nextArg], 10, padLen)
				case 'x':
					fmtInt(w, args[nextArg], 16, padLen)
				case 's':
					fmtString(w, args[nextArg], padLen)
				case 't':
					fmtBool(w, args[nextArg])
				}

				nextArg++
				i++
				break scanVerb
			default:
				write(w, errNoVerb)
				i++
				break scanVerb
			}
		}
	}

	for ; nextArg < len(args); nextArg++ {
		write(w, errExtraArg)
	}
}

// fmtBool emits a formatted version of boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	bVal, isBool := v.(bool)
	if !isBool {
		write(w, errWrongArgType)
		return
	}

	if bVal {
		write(w, trueValue)
	} else {
		write(w, falseValue)
	}
}

// fmtString emits a formatted version of a string or []byte value v,
// left-padding with spaces up to padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	switch sVal := v.(type) {
	case string:
		pad(w, ' ', padLen-len(sVal))
		// Converting the string to a byte slice would allocate so the
		// bytes are emitted one at a time.
		for i := 0; i < len(sVal); i++ {
			emitByte(w, sVal[i])
		}
	case []byte:
		pad(w, ' ', padLen-len(sVal))
		write(w, sVal)
	default:
		write(w, errWrongArgType)
	}
}

// pad emits count copies of ch.
func pad(w io.Writer, ch byte, count int) {
	for i := 0; i < count; i++ {
		emitByte(w, ch)
	}
}

// fmtInt emits a formatted version of v in the requested base, applying the
// padding specified by padLen. All built-in signed and unsigned integer types
// are supported.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		uval     uint64
		negative bool
	)

	switch val := v.(type) {
	case uint8:
		uval = uint64(val)
	case uint16:
		uval = uint64(val)
	case uint32:
		uval = uint64(val)
	case uint64:
		uval = val
	case uint:
		uval = uint64(val)
	case uintptr:
		uval = uint64(val)
	case int8:
		negative = val < 0
		uval = abs64(int64(val))
	case int16:
		negative = val < 0
		uval = abs64(int64(val))
	case int32:
		negative = val < 0
		uval = abs64(int64(val))
	case int64:
		negative = val < 0
		uval = abs64(val)
	case int:
		negative = val < 0
		uval = abs64(int64(val))
	default:
		write(w, errWrongArgType)
		return
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	if padLen >= numBufSize {
		padLen = numBufSize - 1
	}

	// Generate digits right-to-left into numBuf.
	end := numBufSize
	for {
		end--
		digit := byte(uval % uint64(base))
		if digit < 10 {
			numBuf[end] = digit + '0'
		} else {
			numBuf[end] = digit - 10 + 'a'
		}

		uval /= uint64(base)
		if uval == 0 {
			break
		}
	}

	if negative && padCh == '0' {
		// Zero padding goes between the sign and the digits.
		for numBufSize-end < padLen-1 && end > 0 {
			end--
			numBuf[end] = '0'
		}
		end--
		numBuf[end] = '-'
	} else {
		for numBufSize-end < padLen && end > 0 {
			end--
			numBuf[end] = padCh
		}

		if negative {
			// Place the sign on the last blank pad character, or
			// prepend it.
			i := end
			for ; i < numBufSize-1 && numBuf[i] == ' '; i++ {
			}
			if i > end {
				numBuf[i-1] = '-'
			} else {
				end--
				numBuf[end] = '-'
			}
		}
	}

	write(w, numBuf[end:])
}

func abs64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

// emitByte writes a single byte through the shared single-byte buffer.
func emitByte(w io.Writer, ch byte) {
	byteBuf[0] = ch
	write(w, byteBuf)
}

// write sends p to w, or to the early ring buffer when no sink is installed.
func write(w io.Writer, p []byte) {
	if w != nil {
		w.Write(p)
		return
	}

	earlyBuffer.Write(p)
}
