package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// DocName is the application constant every Web-of-Trust signed document
// must carry (spec §6).
const DocName = "WebOfTrust"

// RequestURI is the updatable, signed-document locator carried by every
// Identity. It accepts either of the two accepted shapes and normalizes to
// a canonical form.
type RequestURI struct {
	RoutingKey        string
	CryptoKey         string
	Extra             string
	Edition           int64
	LatestEditionHint int64
}

// InsertURI is the signing-key half of a URI pair; it is only ever held for
// an OwnIdentity's local construction and never revealed (spec §3, §6).
type InsertURI struct {
	RoutingKey string
	CryptoKey  string
	Extra      string
	Edition    int64
}

// ParseRequestURI accepts both URI shapes the source network uses for
// request URIs: "USK@routing,crypto,extra/WebOfTrust/42" and the SSK form
// "SSK@routing,crypto,extra/WebOfTrust-42". Both carry the same logical
// fields; this parser normalizes either into a RequestURI.
func ParseRequestURI(raw string) (RequestURI, error) {
	var uri RequestURI

	scheme, rest, ok := strings.Cut(raw, "@")
	if !ok {
		return uri, fmt.Errorf("%w: missing scheme separator in %q", ErrMalformedURI, raw)
	}
	switch scheme {
	case "USK", "SSK":
	default:
		return uri, fmt.Errorf("%w: unsupported key type %q", ErrMalformedURI, scheme)
	}

	keyPart, pathPart, ok := strings.Cut(rest, "/")
	if !ok {
		return uri, fmt.Errorf("%w: missing path component in %q", ErrMalformedURI, raw)
	}

	keyFields := strings.Split(keyPart, ",")
	if len(keyFields) != 3 {
		return uri, fmt.Errorf("%w: expected routing,crypto,extra key fields in %q", ErrMalformedURI, raw)
	}
	uri.RoutingKey, uri.CryptoKey, uri.Extra = keyFields[0], keyFields[1], keyFields[2]

	docName := pathPart
	var editionStr string
	if scheme == "USK" {
		docName, editionStr, ok = strings.Cut(pathPart, "/")
		if !ok {
			return uri, fmt.Errorf("%w: USK path missing edition in %q", ErrMalformedURI, raw)
		}
	} else {
		var name, ed, found = cutLast(pathPart, "-")
		if !found {
			return uri, fmt.Errorf("%w: SSK path missing edition in %q", ErrMalformedURI, raw)
		}
		docName, editionStr = name, ed
	}

	if docName != DocName {
		return uri, fmt.Errorf("%w: doc name %q does not match %q", ErrMalformedURI, docName, DocName)
	}

	edition, err := strconv.ParseInt(editionStr, 10, 64)
	if err != nil || edition < 0 {
		return uri, fmt.Errorf("%w: invalid edition %q", ErrMalformedURI, editionStr)
	}
	uri.Edition = edition
	uri.LatestEditionHint = edition
	return uri, nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	idx := strings.LastIndex(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+len(sep):], true
}

// String renders the canonical USK form of the URI.
func (u RequestURI) String() string {
	return fmt.Sprintf("USK@%s,%s,%s/%s/%d", u.RoutingKey, u.CryptoKey, u.Extra, DocName, u.Edition)
}

// ParseInsertURI parses a local own-identity insert URI ("USK@insert.../...").
// Insert URIs are only ever accepted for local construction, never for
// remote identities (spec §6).
func ParseInsertURI(raw string) (InsertURI, error) {
	req, err := ParseRequestURI(raw)
	if err != nil {
		return InsertURI{}, err
	}
	return InsertURI{
		RoutingKey: req.RoutingKey,
		CryptoKey:  req.CryptoKey,
		Extra:      req.Extra,
		Edition:    req.Edition,
	}, nil
}
