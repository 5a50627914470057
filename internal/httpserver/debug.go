package httpserver

import (
	"fmt"
	"strings"
)

// maxLogBytes caps how much of a raw packet trace-level logging will
// render, mirroring original_source/Utils.cpp's escapeStr truncation.
const maxLogBytes = 256

// escapeForLog renders control and non-ASCII bytes as visible escapes so a
// raw request/response fragment can be logged on one line without
// corrupting the terminal or the log file. Supplemented from
// original_source/Utils.cpp's escapeStr, spec.md itself never mentions it.
func escapeForLog(b []byte) string {
	if len(b) > maxLogBytes {
		b = b[:maxLogBytes]
	}
	var sb strings.Builder
	for _, ch := range b {
		switch ch {
		case '\r':
			sb.WriteString(`\r`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if ch < 0x20 || ch >= 0x7f {
				fmt.Fprintf(&sb, `\x%02x`, ch)
			} else {
				sb.WriteByte(ch)
			}
		}
	}
	return sb.String()
}
