package otelpipe

import (
	"net/http"
	"net/url"
)

// RequestInfo is the progressively-populated view of one inbound request
// that the host hands to the builder. Hooks may mutate it as the request
// advances; the harvester reads its final state at response time.
type RequestInfo struct {
	// ID identifies the request. Left empty, the builder assigns one
	// from its ID pool.
	ID string

	Method string
	URL    *url.URL

	// Route is the matched route template, when the host's router knows
	// one. It takes precedence over the raw path in the root span name.
	Route string

	Header  http.Header
	Cookies []*http.Cookie

	// Body is whatever the parse phase produced: raw bytes, a string,
	// or a decoded structure. Classified by shape at harvest time.
	Body any

	// RemoteAddr is the connection-level peer address.
	RemoteAddr string

	// ClientIP is the framework-resolved client address (for example
	// from a trusted forwarding header). Preferred over RemoteAddr.
	ClientIP string
}

// ResponseInfo is the finalized response state read by the harvester.
type ResponseInfo struct {
	// Status is an explicit numeric code, a status name such as
	// "Not Found", or nil. Anything unrecognized resolves to 200.
	Status any

	Header http.Header
	Body   any
}

// RequestInfoFromHTTP builds a RequestInfo from a standard request. The
// body is left nil; reading it is the parse phase's decision.
func RequestInfoFromHTTP(r *http.Request) *RequestInfo {
	return &RequestInfo{
		ID:         r.Header.Get("X-Request-Id"),
		Method:     r.Method,
		URL:        r.URL,
		Header:     r.Header,
		Cookies:    r.Cookies(),
		RemoteAddr: r.RemoteAddr,
	}
}

func (info *RequestInfo) path() string {
	if info.URL == nil {
		return ""
	}
	return info.URL.Path
}

// routeOrPath names the request for the root span: the route template
// when known, the raw path otherwise.
func (info *RequestInfo) routeOrPath() string {
	if info.Route != "" {
		return info.Route
	}
	return info.path()
}
