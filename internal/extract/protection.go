package extract

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

// protectionScanBytes bounds how much of a PDF is searched for /Encrypt.
const protectionScanBytes = 10 * 1024

var (
	encryptMarker     = []byte("/Encrypt")
	endObjectMarker   = []byte("endobj")
	versionPattern    = regexp.MustCompile(`/V\s*(\d+)`)
	encryptRefPattern = regexp.MustCompile(`/Encrypt\s*(\d+)\s+(\d+)\s+R`)
)

// protectionKeywords mark parser errors caused by access protection.
var protectionKeywords = []string{"secured", "password", "encrypt", "protected"}

// ClassifyProtection inspects the first 10KB of a PDF for an /Encrypt
// dictionary and its /V algorithm version.
func ClassifyProtection(raw []byte) Protection {
	head := raw
	if len(head) > protectionScanBytes {
		head = head[:protectionScanBytes]
	}

	if !bytes.Contains(head, encryptMarker) {
		return ProtectionPermissionRestricted
	}

	match := versionPattern.FindSubmatch(encryptDictionary(head))
	if match == nil {
		return ProtectionEncryptedUnknown
	}

	version, err := strconv.Atoi(string(match[1]))
	if err != nil {
		return ProtectionEncryptedUnknown
	}

	switch version {
	case 1:
		return ProtectionRC440
	case 2:
		return ProtectionRC4128
	case 4:
		return ProtectionAES128
	case 5:
		return ProtectionAES256
	default:
		return ProtectionEncryptedUnknown
	}
}

// encryptDictionary returns the part of head that holds the encryption
// dictionary: the body of the indirect object /Encrypt refers to when it is
// in head, otherwise everything after the first /Encrypt.
func encryptDictionary(head []byte) []byte {
	if ref := encryptRefPattern.FindSubmatch(head); ref != nil {
		objectPattern := regexp.MustCompile(`\b` + string(ref[1]) + `\s+` + string(ref[2]) + `\s+obj\b`)

		if loc := objectPattern.FindIndex(head); loc != nil {
			body := head[loc[1]:]
			if end := bytes.Index(body, endObjectMarker); end >= 0 {
				body = body[:end]
			}

			return body
		}
	}

	return head[bytes.Index(head, encryptMarker)+len(encryptMarker):]
}

// isProtectionError reports whether a parser error mentions access
// protection.
func isProtectionError(err error) bool {
	if err == nil {
		return false
	}

	message := strings.ToLower(err.Error())
	for _, keyword := range protectionKeywords {
		if strings.Contains(message, keyword) {
			return true
		}
	}

	return false
}

// isInvalidReferenceError reports whether a parser error is the broken
// object reference case that the CLI extractor can usually recover.
func isInvalidReferenceError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "invalid object reference")
}
