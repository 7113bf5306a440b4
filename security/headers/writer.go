package headers

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// Writer stamps a header set onto the response when the wrapped
// handler writes its header, replacing values the handler set for the
// same names.
type Writer struct {
	writer  http.ResponseWriter
	stamp   http.Header
	stamped bool
}

// NewWriter wraps w. Headers added to Stamp before the response header
// is written are stamped too.
func NewWriter(w http.ResponseWriter, stamp http.Header) *Writer {
	if stamp == nil {
		stamp = http.Header{}
	}
	return &Writer{writer: w, stamp: stamp}
}

// Stamp returns the header set stamped onto the response.
func (sw *Writer) Stamp() http.Header {
	return sw.stamp
}

func (sw *Writer) apply() {
	h := sw.writer.Header()
	for k, v := range sw.stamp {
		h[k] = append([]string(nil), v...)
	}
}

// Finish stamps the headers of a response whose handler returned
// without writing anything.
func (sw *Writer) Finish() {
	if !sw.stamped {
		sw.apply()
		sw.stamped = true
	}
}

func (sw *Writer) Header() http.Header {
	return sw.writer.Header()
}

func (sw *Writer) WriteHeader(code int) {
	sw.apply()

	// informational responses are followed by the final header
	if code >= http.StatusOK || code == http.StatusSwitchingProtocols {
		sw.stamped = true
	}

	sw.writer.WriteHeader(code)
}

func (sw *Writer) Write(data []byte) (int, error) {
	sw.Finish()
	return sw.writer.Write(data)
}

func (sw *Writer) Flush() {
	sw.Finish()
	if f, ok := sw.writer.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *Writer) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hij, ok := sw.writer.(http.Hijacker); ok {
		return hij.Hijack()
	}
	return nil, nil, fmt.Errorf("could not hijack connection")
}

func (sw *Writer) Unwrap() http.ResponseWriter {
	return sw.writer
}
