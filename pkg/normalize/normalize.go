// Package normalize canonicalizes room host/path pairs into a single room
// ID and resolves legacy IDs through the redirect table, using only
// net/url: no pack dependency does URL-safe string canonicalization, so
// this stays on the standard library (see DESIGN.md).
package normalize

import (
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/playhtml/playroom/pkg/storage"
)

// ErrInvalidID is returned when a (host, path) pair or bare ID cannot be
// canonicalized.
var ErrInvalidID = errors.New("normalize: invalid room id")

// reservedSentinel is a reserved string that IsInvalidDecoded always
// rejects; it is never itself a valid canonical ID.
const reservedSentinel = "__invalid__"

// NormalizeHost lowercases a host, strips a leading "www.", and rejects
// empty hosts or hosts containing a path separator.
func NormalizeHost(host string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimPrefix(h, "www.")
	if h == "" || strings.Contains(h, "/") {
		return "", ErrInvalidID
	}
	return h, nil
}

// NormalizePath URL-decodes once, strips a single trailing file extension
// (unless that would empty the path), collapses an empty path to "/", and
// strips a trailing "/" unless the whole path is "/".
func NormalizePath(p string) (string, error) {
	decoded, err := url.QueryUnescape(p)
	if err != nil {
		return "", ErrInvalidID
	}

	if decoded == "" {
		decoded = "/"
	}

	ext := path.Ext(decoded)
	if ext != "" && ext != decoded {
		decoded = strings.TrimSuffix(decoded, ext)
		if decoded == "" {
			decoded = "/"
		}
	}

	if decoded != "/" {
		decoded = strings.TrimSuffix(decoded, "/")
		if decoded == "" {
			decoded = "/"
		}
	}

	return decoded, nil
}

// CanonicalRoomID derives the canonical room ID for a (host, path) pair:
// urlEncode(host + "-" + normalizedPath).
func CanonicalRoomID(host, p string) (string, error) {
	normHost, err := NormalizeHost(host)
	if err != nil {
		return "", err
	}
	normPath, err := NormalizePath(p)
	if err != nil {
		return "", err
	}
	if IsInvalidDecoded(normPath) {
		return "", ErrInvalidID
	}
	return url.QueryEscape(normHost + "-" + normPath), nil
}

// IsInvalidDecoded reports whether a decoded path/string is a sentinel that
// must never become a canonical ID: the literal "undefined", or a
// filesystem-like path escaping the room namespace.
func IsInvalidDecoded(decoded string) bool {
	if decoded == "undefined" || decoded == reservedSentinel {
		return true
	}
	if strings.Contains(decoded, "..") {
		return true
	}
	return false
}

// IsInvalidID reports whether id is invalid: it fails to decode, decodes to
// a reserved sentinel, or its own re-normalization would change it.
func IsInvalidID(id string) bool {
	decoded, err := url.QueryUnescape(id)
	if err != nil {
		return true
	}
	if IsInvalidDecoded(decoded) {
		return true
	}
	return url.QueryEscape(decoded) != id
}

// ResolveRedirect follows the redirect table from id to its canonical
// successor, returning id unchanged if no redirect row exists.
func ResolveRedirect(store storage.DocumentStore, id string) (string, error) {
	redirect, err := store.GetRedirect(id)
	if err != nil {
		return "", err
	}
	if redirect == nil {
		return id, nil
	}
	return ResolveRedirect(store, redirect.NewName)
}
