package http //nolint:revive // intentional naming for domain clarity

import (
	"fmt"
	nethttp "net/http"
)

// Result classifies how a request attempt ended.
type Result int

// Request results.
const (
	// ResultSuccess means a response was received. The status may still be
	// an error status; callbacks validate it.
	ResultSuccess Result = iota

	// ResultFailure means the request could not be issued.
	ResultFailure

	// ResultConnectionFailure means the connection failed before or while
	// the response was read. The response has no status.
	ResultConnectionFailure

	// ResultCanceled means the request was cancelled through its RequestList.
	ResultCanceled
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	case ResultConnectionFailure:
		return "connection failure"
	case ResultCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// CallbackResult is returned by a Callback.
type CallbackResult int

// Callback results.
const (
	CallbackSuccess CallbackResult = iota
	CallbackNeedsResend
)

// Callback receives the outcome of an attempt. It runs on a transport
// goroutine. Returning CallbackNeedsResend schedules another attempt unless
// the result was ResultCanceled, in which case the return value is ignored.
type Callback func(result Result, resp *Response) CallbackResult

// PrepForResendFunc adjusts resend, a copy of origReq, before it is issued.
type PrepForResendFunc func(orig *Response, origReq, resend *Request)

// Request is a single HTTP GET, optionally restricted to a byte range.
type Request struct {
	// URL is the target of the request.
	URL string

	// Header holds extra request headers.
	Header nethttp.Header

	// IgnoreDomainRequestBudget bypasses the per-host request rate limit.
	IgnoreDomainRequestBudget bool

	// Callback receives the outcome of every attempt.
	Callback Callback

	// PrepForResend is called before each resend, if set.
	PrepForResend PrepForResendFunc

	rangeStart  uint64
	rangeEnd    uint64
	hasRange    bool
	output      []byte
	maxBodySize int64
}

// NewRequest returns a GET request for url.
func NewRequest(url string) *Request {
	return &Request{URL: url}
}

// AddRangeHeader restricts the request to bytes [start, end], inclusive.
func (r *Request) AddRangeHeader(start, end uint64) {
	r.rangeStart = start
	r.rangeEnd = end
	r.hasRange = true
}

// Range returns the requested byte range.
func (r *Request) Range() (start, end uint64, ok bool) {
	return r.rangeStart, r.rangeEnd, r.hasRange
}

// SetBodyOutputBuffer makes the response body be written directly into buf.
// A body longer than buf is truncated and reported as such.
func (r *Request) SetBodyOutputBuffer(buf []byte) {
	r.output = buf
}

// BodyOutputBuffer returns the buffer set by SetBodyOutputBuffer.
func (r *Request) BodyOutputBuffer() []byte {
	return r.output
}

// SetMaxBodySize bounds the owned body buffer used when no output buffer is
// set. A body longer than n is truncated. Values <= 0 use the manager default.
func (r *Request) SetMaxBodySize(n int64) {
	r.maxBodySize = n
}

// clone copies r for a resend attempt. The output buffer is shared.
func (r *Request) clone() *Request {
	c := *r
	if r.Header != nil {
		c.Header = r.Header.Clone()
	}
	return &c
}
