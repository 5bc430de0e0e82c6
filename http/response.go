package http //nolint:revive // intentional naming for domain clarity

import nethttp "net/http"

// NoStatus is reported by Response.Status when no status line was received.
const NoStatus = -1

// Response is the outcome of one request attempt.
type Response struct {
	status      int
	header      nethttp.Header
	body        []byte
	truncated   bool
	redirectURL string
}

func noStatusResponse(body []byte) *Response {
	return &Response{status: NoStatus, body: body}
}

// Status returns the HTTP status code, or NoStatus.
func (r *Response) Status() int {
	return r.status
}

// Header returns the response headers, or nil when no status was received.
func (r *Response) Header() nethttp.Header {
	return r.header
}

// Body returns the bytes received. When the request had an output buffer
// the slice aliases it.
func (r *Response) Body() []byte {
	return r.body
}

// BodySize returns len(Body()).
func (r *Response) BodySize() int {
	return len(r.body)
}

// BodyDataWasTruncated reports whether the server sent more bytes than fit.
func (r *Response) BodyDataWasTruncated() bool {
	return r.truncated
}

// RedirectURL returns the final URL after redirects, or "" when the request
// was not redirected.
func (r *Response) RedirectURL() string {
	return r.redirectURL
}
