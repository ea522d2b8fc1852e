package protocol

import (
	"bytes"
	"strings"
)

const tracebackToken = "Traceback"

// ParseResultSpan splits the bytes collected between the execution
// acknowledgment and the completion marker into output and error sections.
//
// The device separates sections with a single EOT byte: section 0 is the
// printed output, section 1 (when present) carries an exception traceback.
// Decoding is tolerant: a span with no separator is output-only, an empty
// span is a valid empty result, and section-1 content without a traceback is
// diagnostic noise. Malformed framing is an engine concern, never raised here.
func ParseResultSpan(span []byte) ExecutionResult {
	s := bytes.TrimSuffix(span, []byte{'>'})
	parts := bytes.SplitN(s, []byte{CtrlEOT}, 3)

	result := ExecutionResult{
		Output: strings.TrimSpace(string(parts[0])),
	}
	if len(parts) < 2 {
		return result
	}
	errSection := string(parts[1])
	if errSection != "" && strings.Contains(errSection, tracebackToken) {
		result.IsError = true
		// kept verbatim so callers see the untrimmed remote traceback
		result.ErrorMessage = errSection
	}
	return result
}
