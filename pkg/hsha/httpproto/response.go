package httpproto

import (
	"net/http"
	"strconv"
	"time"
)

type response struct {
	status      int
	contentType string
	body        []byte
	headOnly    bool
	keepAlive   bool
	allow       string
}

func errorResponse(status int) *response {
	return &response{
		status:      status,
		contentType: "text/plain; charset=utf-8",
		body:        []byte(strconv.Itoa(status) + " " + http.StatusText(status) + "\n"),
	}
}

// appendTo serializes r onto dst.
func (r *response) appendTo(dst []byte, server string, now time.Time) []byte {
	dst = append(dst, "HTTP/1.1 "...)
	dst = strconv.AppendInt(dst, int64(r.status), 10)
	dst = append(dst, ' ')
	dst = append(dst, http.StatusText(r.status)...)
	dst = append(dst, "\r\n"...)

	dst = appendHeader(dst, "Server", server)
	dst = appendHeader(dst, "Date", now.UTC().Format(http.TimeFormat))
	if r.allow != "" {
		dst = appendHeader(dst, "Allow", r.allow)
	}
	if r.contentType != "" {
		dst = appendHeader(dst, "Content-Type", r.contentType)
	}
	dst = appendHeader(dst, "Content-Length", strconv.Itoa(len(r.body)))
	if r.keepAlive {
		dst = appendHeader(dst, "Connection", "keep-alive")
	} else {
		dst = appendHeader(dst, "Connection", "close")
	}
	dst = append(dst, "\r\n"...)

	if !r.headOnly {
		dst = append(dst, r.body...)
	}
	return dst
}

func appendHeader(dst []byte, name, value string) []byte {
	dst = append(dst, name...)
	dst = append(dst, ": "...)
	dst = append(dst, value...)
	return append(dst, "\r\n"...)
}
