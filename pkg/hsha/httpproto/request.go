package httpproto

import (
	"bytes"
	"errors"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

var (
	errIncomplete     = errors.New("incomplete request")
	errInvalid        = errors.New("invalid request")
	errHeaderTooLarge = errors.New("request header too large")
	errBodyTooLarge   = errors.New("request body too large")
	errUnsupported    = errors.New("unsupported transfer encoding")
)

var headerEnd = []byte("\r\n\r\n")

type request struct {
	method     string
	target     string
	proto      string
	protoMajor int
	protoMinor int
	header     http.Header
	body       []byte
}

// keepAlive applies the HTTP/1.0 and HTTP/1.1 persistence defaults.
func (r *request) keepAlive() bool {
	tokens := r.header["Connection"]
	if r.protoMajor == 1 && r.protoMinor == 0 {
		return httpguts.HeaderValuesContainsToken(tokens, "keep-alive")
	}
	return !httpguts.HeaderValuesContainsToken(tokens, "close")
}

// parseRequest parses one request from the front of raw and returns the
// number of bytes it spans. errIncomplete means more input is needed.
func parseRequest(raw []byte, maxHeader, maxBody int) (*request, int, error) {
	end := bytes.Index(raw, headerEnd)
	if end < 0 {
		if len(raw) > maxHeader {
			return nil, 0, errHeaderTooLarge
		}
		return nil, 0, errIncomplete
	}
	if end+len(headerEnd) > maxHeader {
		return nil, 0, errHeaderTooLarge
	}

	lines := strings.Split(string(raw[:end]), "\r\n")
	req, err := parseRequestLine(lines[0])
	if err != nil {
		return nil, 0, err
	}

	req.header = make(http.Header, len(lines)-1)
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok || !httpguts.ValidHeaderFieldName(name) {
			return nil, 0, errInvalid
		}
		value = strings.Trim(value, " \t")
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, 0, errInvalid
		}
		req.header.Add(textproto.CanonicalMIMEHeaderKey(name), value)
	}

	if req.protoMinor >= 1 && len(req.header["Host"]) != 1 {
		return nil, 0, errInvalid
	}
	if len(req.header["Transfer-Encoding"]) > 0 {
		return nil, 0, errUnsupported
	}

	length, err := contentLength(req.header["Content-Length"])
	if err != nil {
		return nil, 0, err
	}
	if length > maxBody {
		return nil, 0, errBodyTooLarge
	}

	start := end + len(headerEnd)
	if len(raw)-start < length {
		return nil, 0, errIncomplete
	}
	req.body = raw[start : start+length]
	return req, start + length, nil
}

func parseRequestLine(line string) (*request, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return nil, errInvalid
	}
	method, target, proto := parts[0], parts[1], parts[2]
	if method == "" || !httpguts.ValidHeaderFieldName(method) {
		return nil, errInvalid
	}
	if !strings.HasPrefix(target, "/") {
		return nil, errInvalid
	}
	major, minor, ok := http.ParseHTTPVersion(proto)
	if !ok || major != 1 {
		return nil, errInvalid
	}
	return &request{
		method:     method,
		target:     target,
		proto:      proto,
		protoMajor: major,
		protoMinor: minor,
	}, nil
}

func contentLength(values []string) (int, error) {
	if len(values) == 0 {
		return 0, nil
	}
	for _, v := range values[1:] {
		if v != values[0] {
			return 0, errInvalid
		}
	}
	n, err := strconv.Atoi(values[0])
	if err != nil || n < 0 {
		return 0, errInvalid
	}
	return n, nil
}
