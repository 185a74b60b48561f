// Package stream implements the client side of the conversational turn
// stream: frame reassembly, event decoding, the per-turn request state
// machine and the safety watchdog.
package stream

import "strings"

// recordDelimiter separates records on the wire. Records are blocks of one or
// more lines terminated by a blank line, as in server-sent events.
const recordDelimiter = "\n\n"

// Reassembler turns arbitrarily chunked stream text into complete records.
// It keeps a single pending buffer: each chunk is appended, complete records
// are split off, and any trailing partial record waits for the next chunk.
type Reassembler struct {
	pending strings.Builder
}

// Push appends a chunk and returns every record completed by it, in order.
// A record is never returned before its terminating blank line has been seen.
func (r *Reassembler) Push(chunk string) []string {
	if chunk == "" {
		return nil
	}
	r.pending.WriteString(chunk)

	buf := r.pending.String()
	// Normalize CRLF so the delimiter scan only has to handle "\n\n".
	buf = strings.ReplaceAll(buf, "\r\n", "\n")

	var records []string
	for {
		i := strings.Index(buf, recordDelimiter)
		if i < 0 {
			break
		}
		if rec := strings.TrimSpace(buf[:i]); rec != "" {
			records = append(records, rec)
		}
		buf = buf[i+len(recordDelimiter):]
	}

	r.pending.Reset()
	r.pending.WriteString(buf)
	return records
}

// Flush returns the trailing unterminated record, if any. Called once at end
// of stream so a final record without a delimiter is not lost.
func (r *Reassembler) Flush() (string, bool) {
	rec := strings.TrimSpace(r.pending.String())
	r.pending.Reset()
	return rec, rec != ""
}
