package wire

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
)

const (
	authScheme      = "LOG"
	apiVersion      = "0.6.0"
	signatureMethod = "hmac-sha1"

	headerAPIVersion      = "x-log-apiversion"
	headerSignatureMethod = "x-log-signaturemethod"
	headerBodyRawSize     = "x-log-bodyrawsize"
	headerSecurityToken   = "x-acs-security-token"
)

var vendorPrefixes = []string{"x-log-", "x-acs-"}

// ContentMD5 returns the uppercase hex MD5 of the request body, as required
// by the signing scheme.
func ContentMD5(body []byte) string {
	return strings.ToUpper(fmt.Sprintf("%x", md5.Sum(body)))
}

// canonicalVendorHeaders lower-cases vendor-prefixed header names, sorts
// them, and joins them as name:value lines.
func canonicalVendorHeaders(headers map[string]string) string {
	var names []string
	values := make(map[string]string)

	for name, value := range headers {
		lower := strings.ToLower(name)
		for _, prefix := range vendorPrefixes {
			if strings.HasPrefix(lower, prefix) {
				names = append(names, lower)
				values[lower] = value
				break
			}
		}
	}

	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, name+":"+values[name])
	}
	return strings.Join(lines, "\n")
}

// canonicalString builds the string to sign. Missing fields contribute an
// empty line; the line itself is never omitted.
func canonicalString(method, path string, headers map[string]string) string {
	parts := []string{
		method,
		headers["Content-MD5"],
		headers["Content-Type"],
		headers["Date"],
		canonicalVendorHeaders(headers),
		path,
	}
	return strings.Join(parts, "\n")
}

// Sign computes the Authorization header value for a request. It is
// deterministic for fixed inputs.
func Sign(method, path string, headers map[string]string, accessKeyID, accessKeySecret string) string {
	mac := hmac.New(sha1.New, []byte(accessKeySecret))
	mac.Write([]byte(canonicalString(method, path, headers)))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("%s %s:%s", authScheme, accessKeyID, signature)
}
