package transformheaders

import (
	"net/http"
	"sort"
	"strings"

	"golang.org/x/net/http/httpguts"
	"google.golang.org/grpc/metadata"
)

// Headers is the mutable header set of one request, response or message.
// Remove and Contains match names case-insensitively in every implementation.
type Headers interface {
	// Set replaces all values of name
	Set(name, value string) error
	// Add appends a value to name
	Add(name, value string) error
	// Remove deletes name; removing an absent header is a no-op
	Remove(name string)
	// Names returns a snapshot of the header names
	Names() []string
	// Contains reports whether name is present
	Contains(name string) bool
}

// HTTPHeaders adapts an http.Header
type HTTPHeaders struct {
	header http.Header
	// preserveCase stores names as given instead of canonicalizing them
	preserveCase bool
}

// NewHTTPHeaders wraps h. The map is mutated in place.
func NewHTTPHeaders(h http.Header) *HTTPHeaders {
	return &HTTPHeaders{header: h}
}

// NewCaseSensitiveHTTPHeaders wraps h and writes names without MIME canonicalization
func NewCaseSensitiveHTTPHeaders(h http.Header) *HTTPHeaders {
	return &HTTPHeaders{header: h, preserveCase: true}
}

// Header returns the wrapped map
func (h *HTTPHeaders) Header() http.Header {
	return h.header
}

func (h *HTTPHeaders) Set(name, value string) error {
	if err := validateHTTPField(name, value); err != nil {
		return err
	}
	if !h.preserveCase {
		h.header.Set(name, value)
		return nil
	}
	h.Remove(name)
	h.header[name] = []string{value}
	return nil
}

func (h *HTTPHeaders) Add(name, value string) error {
	if err := validateHTTPField(name, value); err != nil {
		return err
	}
	if !h.preserveCase {
		h.header.Add(name, value)
		return nil
	}
	key := name
	if existing, ok := h.lookup(name); ok {
		key = existing
	}
	h.header[key] = append(h.header[key], value)
	return nil
}

func (h *HTTPHeaders) Remove(name string) {
	for key := range h.header {
		if strings.EqualFold(key, name) {
			delete(h.header, key)
		}
	}
}

func (h *HTTPHeaders) Names() []string {
	return sortedKeys(h.header)
}

func (h *HTTPHeaders) Contains(name string) bool {
	_, ok := h.lookup(name)
	return ok
}

func (h *HTTPHeaders) lookup(name string) (string, bool) {
	if _, ok := h.header[name]; ok {
		return name, true
	}
	for key := range h.header {
		if strings.EqualFold(key, name) {
			return key, true
		}
	}
	return "", false
}

// MetadataHeaders adapts gRPC metadata. Keys are always lowercase.
type MetadataHeaders struct {
	md metadata.MD
}

// NewMetadataHeaders wraps md. The map is mutated in place.
func NewMetadataHeaders(md metadata.MD) *MetadataHeaders {
	if md == nil {
		md = metadata.MD{}
	}
	return &MetadataHeaders{md: md}
}

// MD returns the wrapped metadata
func (m *MetadataHeaders) MD() metadata.MD {
	return m.md
}

func (m *MetadataHeaders) Set(name, value string) error {
	if err := validateMetadataField(name, value); err != nil {
		return err
	}
	m.md.Set(name, value)
	return nil
}

func (m *MetadataHeaders) Add(name, value string) error {
	if err := validateMetadataField(name, value); err != nil {
		return err
	}
	m.md.Append(name, value)
	return nil
}

func (m *MetadataHeaders) Remove(name string) {
	delete(m.md, strings.ToLower(name))
}

func (m *MetadataHeaders) Names() []string {
	return sortedKeys(m.md)
}

func (m *MetadataHeaders) Contains(name string) bool {
	_, ok := m.md[strings.ToLower(name)]
	return ok
}

func validateHTTPField(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return &MutationError{Header: name, Reason: "invalid header name"}
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return &MutationError{Header: name, Reason: "invalid header value"}
	}
	return nil
}

func validateMetadataField(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return &MutationError{Header: name, Reason: "invalid metadata key"}
	}
	// binary keys carry arbitrary bytes
	if !strings.HasSuffix(strings.ToLower(name), "-bin") && !httpguts.ValidHeaderFieldValue(value) {
		return &MutationError{Header: name, Reason: "invalid metadata value"}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
