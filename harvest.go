package otelpipe

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	ejson "github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
)

// defaultBodySerializer is the stock serialization policy for structured
// bodies, multi-value headers, and cookie maps.
func defaultBodySerializer(v any) ([]byte, error) {
	return ejson.Marshal(v)
}

// harvest extracts the finalized request/response metadata into the
// attribute map. It runs once, at response time, after body, headers,
// and status are settled. Each extraction is independent; a value that
// cannot be normalized is omitted rather than raised.
func (t *Trace) harvest(res *ResponseInfo) {
	info := t.info
	serialize := t.plugin.serializer

	if info.URL != nil {
		t.attrs.Set(attribute.String(AttrURLPath, info.URL.Path))
		if info.URL.Scheme != "" {
			t.attrs.Set(attribute.String(AttrURLScheme, info.URL.Scheme))
		}
		if q := info.URL.RawQuery; q != "" {
			t.attrs.Set(attribute.String(AttrURLQuery, q))
		}
	}
	if info.Route != "" {
		t.attrs.Set(attribute.String(AttrHTTPRoute, info.Route))
	}

	if n, ok := parseContentLength(info.Header.Get("Content-Length")); ok {
		t.attrs.Set(attribute.Int64(AttrContentLength, n))
	}
	if ua := info.Header.Get("User-Agent"); ua != "" {
		t.attrs.Set(attribute.String(AttrUserAgent, ua))
	}
	t.attrs.Set(headerAttributes(serialize, attrRequestHeaderPfx, info.Header, true)...)

	if addr := clientAddress(info); addr != "" {
		t.attrs.Set(attribute.String(AttrClientAddress, addr))
	}
	if kv, ok := cookieAttribute(serialize, info.Cookies); ok {
		t.attrs.Set(kv)
	}

	t.attrs.Set(bodyAttributes(serialize, AttrRequestBody, AttrRequestBodySize, info.Body)...)

	status := 200
	if res != nil {
		status = resolveStatus(res.Status)
		t.attrs.Set(headerAttributes(serialize, attrResponseHeaderPfx, res.Header, false)...)
		t.attrs.Set(bodyAttributes(serialize, AttrResponseBody, AttrResponseBodySize, res.Body)...)
	}
	t.attrs.Set(attribute.Int(AttrStatusCode, status))
}

// bodyAttributes classifies a body by value shape. Binary bodies record
// only their byte size; strings are recorded verbatim with their length;
// structured values go through the serialization policy; an absent body
// records size zero and no body attribute. A value the policy cannot
// serialize is omitted entirely.
func bodyAttributes(serialize BodySerializer, bodyKey, sizeKey string, body any) []attribute.KeyValue {
	switch v := body.(type) {
	case nil:
		return []attribute.KeyValue{attribute.Int(sizeKey, 0)}
	case []byte:
		return []attribute.KeyValue{attribute.Int(sizeKey, len(v))}
	case string:
		return []attribute.KeyValue{
			attribute.String(bodyKey, v),
			attribute.Int(sizeKey, len(v)),
		}
	default:
		b, err := serialize(v)
		if err != nil {
			return nil
		}
		return []attribute.KeyValue{
			attribute.String(bodyKey, string(b)),
			attribute.Int(sizeKey, len(b)),
		}
	}
}

// resolveStatus turns whatever status shape the host finalized into a
// numeric code. Explicit numbers pass through; names go through the
// status-name table; everything else defaults to 200.
func resolveStatus(status any) int {
	switch v := status.(type) {
	case nil:
		return 200
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		if code, ok := statusNames[v]; ok {
			return code
		}
		return 200
	default:
		return 200
	}
}

// statusNames maps status reason phrases to their numeric codes, built
// from the standard library's status text table.
var statusNames = func() map[string]int {
	m := make(map[string]int, 64)
	for code := 100; code < 600; code++ {
		if text := http.StatusText(code); text != "" {
			m[text] = code
		}
	}
	return m
}()

// parseContentLength accepts a content-length value only when it parses
// to a non-negative integer that survives a float64 round trip without
// precision loss. Ambiguous 16+ digit values and malformed strings are
// rejected, never raised.
func parseContentLength(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 63)
	if err != nil {
		return 0, false
	}
	if uint64(float64(n)) != n {
		return 0, false
	}
	return int64(n), true
}

// headerAttributes expands headers into per-header attributes with
// lower-cased keys. Multi-value headers become one structured string
// instead of being flattened. The request side skips User-Agent, which
// already has a dedicated attribute.
func headerAttributes(serialize BodySerializer, prefix string, h http.Header, skipUserAgent bool) []attribute.KeyValue {
	if len(h) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(h))
	for name, values := range h {
		if skipUserAgent && http.CanonicalHeaderKey(name) == "User-Agent" {
			continue
		}
		key := prefix + strings.ToLower(name)
		switch len(values) {
		case 0:
		case 1:
			out = append(out, attribute.String(key, values[0]))
		default:
			b, err := serialize(values)
			if err != nil {
				continue
			}
			out = append(out, attribute.String(key, string(b)))
		}
	}
	return out
}

// cookieAttribute serializes each cookie value individually and combines
// them into one structured attribute.
func cookieAttribute(serialize BodySerializer, cookies []*http.Cookie) (attribute.KeyValue, bool) {
	if len(cookies) == 0 {
		return attribute.KeyValue{}, false
	}
	m := make(map[string]string, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		m[c.Name] = c.Value
	}
	b, err := serialize(m)
	if err != nil {
		return attribute.KeyValue{}, false
	}
	return attribute.String(AttrRequestCookies, string(b)), true
}

// clientAddress prefers the framework-resolved client IP and falls back
// to the connection-level address.
func clientAddress(info *RequestInfo) string {
	if info.ClientIP != "" {
		return info.ClientIP
	}
	if info.RemoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(info.RemoteAddr); err == nil {
		return host
	}
	return info.RemoteAddr
}
