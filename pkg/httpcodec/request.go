// Package httpcodec implements the dispatcher's own HTTP/1.1 parsing and
// response encoding over raw TCP, grounded on
// original_source/routing_server/routing_server.cpp's parse_http_request
// and original_source/web_server/httpparser.cpp. It exists because the
// dispatcher (pkg/dispatcher) talks to an epoll-driven socket directly
// rather than through net/http.
package httpcodec

import (
	"bufio"
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Request is a parsed HTTP/1.1 request line, headers, query parameters and
// body, as spec §4.5/§4.6 hand it to the dispatcher's handler table.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Headers     map[string]string
	Body        []byte
	HTTPVersion string
}

// Header looks up a header by name, case-insensitively.
func (r Request) Header(name string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// ParseRequest parses a raw HTTP/1.1 request out of buf, read off a TCP
// socket by the dispatcher's poller. Unlike the original source's
// parse_http_request, which skips a fixed two bytes after the header's
// colon (`": "`) and so mis-parses any header value not preceded by
// exactly one space, this trims the value instead.
func ParseRequest(buf []byte) (Request, error) {
	reader := bufio.NewReader(bytes.NewReader(buf))

	requestLine, err := readLine(reader)
	if err != nil {
		return Request{}, fmt.Errorf("httpcodec: reading request line: %w", err)
	}
	method, rawPath, version, err := splitRequestLine(requestLine)
	if err != nil {
		return Request{}, err
	}

	headers := make(map[string]string)
	for {
		line, err := readLine(reader)
		if err != nil {
			return Request{}, fmt.Errorf("httpcodec: reading headers: %w", err)
		}
		if line == "" {
			break
		}
		key, value, ok := splitHeaderLine(line)
		if ok {
			headers[key] = value
		}
	}

	path, query, err := splitPathQuery(rawPath)
	if err != nil {
		return Request{}, err
	}

	var body []byte
	if cl := headers["Content-Length"]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil {
			return Request{}, fmt.Errorf("httpcodec: invalid Content-Length %q: %w", cl, err)
		}
		body = make([]byte, n)
		if _, err := readFull(reader, body); err != nil {
			return Request{}, fmt.Errorf("httpcodec: reading body: %w", err)
		}
	} else {
		rest, _ := reader.Peek(reader.Buffered())
		body = append([]byte(nil), rest...)
	}

	return Request{
		Method:      method,
		Path:        path,
		Query:       query,
		Headers:     headers,
		Body:        body,
		HTTPVersion: version,
	}, nil
}

func splitRequestLine(line string) (method, path, version string, err error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", "", fmt.Errorf("httpcodec: malformed request line %q", line)
	}
	method, path = fields[0], fields[1]
	if len(fields) >= 3 {
		version = fields[2]
	} else {
		version = "HTTP/1.1"
	}
	return method, path, version, nil
}

func splitHeaderLine(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func splitPathQuery(rawPath string) (string, url.Values, error) {
	idx := strings.IndexByte(rawPath, '?')
	if idx < 0 {
		return rawPath, url.Values{}, nil
	}
	query, err := url.ParseQuery(rawPath[idx+1:])
	if err != nil {
		return "", nil, fmt.Errorf("httpcodec: parsing query string: %w", err)
	}
	return rawPath[:idx], query, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
