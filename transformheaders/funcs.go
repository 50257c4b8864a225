package transformheaders

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/clbanning/mxj"
	"github.com/tidwall/gjson"
)

var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)*`)

// funcMap returns the functions available to header expressions: sprig without
// access to the process environment, plus header-oriented helpers.
func funcMap() template.FuncMap {
	fm := sprig.TxtFuncMap()
	delete(fm, "env")
	delete(fm, "expandenv")

	fm["jsonPath"] = JSONPath
	fm["xmlPath"] = XMLPath
	fm["header"] = HeaderValue
	fm["bearerToken"] = ExtractBearerToken
	fm["mask"] = MaskSensitive
	fm["normalize"] = Normalize
	fm["sanitizeUserAgent"] = SanitizeUserAgent
	fm["unixToRFC3339"] = FormatTimestamp
	fm["rfc3339ToUnix"] = ParseTimestamp
	return fm
}

// JSONPath returns the value at path in a JSON document, or nil when missing
func JSONPath(path string, content interface{}) interface{} {
	doc, ok := content.(string)
	if !ok {
		return nil
	}
	res := gjson.Get(doc, path)
	if !res.Exists() {
		return nil
	}
	return res.String()
}

// XMLPath returns the value at a dot-separated path in an XML document, or nil when missing
func XMLPath(path string, content interface{}) interface{} {
	doc, ok := content.(string)
	if !ok || doc == "" {
		return nil
	}
	m, err := mxj.NewMapXml([]byte(doc))
	if err != nil {
		return nil
	}
	values, err := m.ValuesForPath(path)
	if err != nil || len(values) == 0 {
		return nil
	}
	switch v := values[0].(type) {
	case string:
		return v
	case map[string]interface{}:
		// element with attributes keeps its text under "#text"
		if text, ok := v["#text"]; ok {
			return text
		}
		return nil
	default:
		return v
	}
}

// HeaderValue looks name up case-insensitively and joins multiple values with a comma
func HeaderValue(name string, headers interface{}) interface{} {
	h, ok := headers.(http.Header)
	if !ok {
		return nil
	}
	for key, values := range h {
		if strings.EqualFold(key, name) {
			return strings.Join(values, ",")
		}
	}
	return nil
}

// Normalize canonicalizes a token-like value for comparisons: "  MiXeD " is "mixed".
func Normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// SanitizeUserAgent masks dotted version numbers so user agents group by
// product only.
func SanitizeUserAgent(value string) string {
	return versionPattern.ReplaceAllString(value, "x.x.x")
}

// FormatTimestamp renders epoch seconds as an RFC 3339 UTC time. Anything
// else is returned unchanged.
func FormatTimestamp(value string) string {
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return value
	}
	return time.Unix(secs, 0).UTC().Format(time.RFC3339)
}

// ParseTimestamp is the inverse of FormatTimestamp
func ParseTimestamp(value string) string {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return strconv.FormatInt(t.Unix(), 10)
}

// ExtractBearerToken returns the credentials of an Authorization value using
// the Bearer scheme. Other schemes pass through.
func ExtractBearerToken(value string) string {
	token, ok := strings.CutPrefix(value, "Bearer ")
	if !ok {
		return value
	}
	return strings.TrimSpace(token)
}

// MaskSensitive shows only the first and last showChars characters
func MaskSensitive(showChars int, value string) string {
	if showChars < 0 {
		showChars = 0
	}
	if len(value) <= showChars*2 {
		return strings.Repeat("*", len(value))
	}
	return value[:showChars] + strings.Repeat("*", len(value)-showChars*2) + value[len(value)-showChars:]
}
