package diagnose

import (
	"strings"

	"PRelay/tools/errs"
)

// Category keys the remediation table.
type Category string

const (
	CategoryAuth     Category = "auth"
	CategoryTimeout  Category = "timeout"
	CategoryCORS     Category = "cors"
	CategoryNotFound Category = "not-found"
	CategoryUnknown  Category = "unknown"
)

// Classify names the taxonomy kind of err and the failure category shown to the operator.
func Classify(err error) (string, Category) {
	if err == nil {
		return "", ""
	}
	kind := errs.Kind(err)
	switch errs.Code(err) {
	case errs.AuthRejectedCode:
		return kind, CategoryAuth
	case errs.TransportTimeoutCode:
		return kind, CategoryTimeout
	case errs.NotAdmittedCode:
		return kind, CategoryCORS
	case errs.NotFoundCode:
		return kind, CategoryNotFound
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "origin"), strings.Contains(msg, "cors"):
		return kind, CategoryCORS
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return kind, CategoryTimeout
	}
	return kind, CategoryUnknown
}

var hintsByKind = map[string]string{
	"ProtocolMismatch": "socket opens but no echo: check the relay version handles `test`",
	"Unreachable":      "check DNS/host/port",
}

var hintsByCategory = map[Category]string{
	CategoryAuth:     "verify the shared credential (apikey) matches the relay's RELAY_SECRET",
	CategoryTimeout:  "check reverse-proxy upgrade headers (Upgrade/Connection) for websocket support, or allow long-polling",
	CategoryCORS:     "add the caller origin to RELAY_ALLOWED_ORIGINS",
	CategoryNotFound: "check the endpoint path / namespace",
	CategoryUnknown:  "re-run with --verbose",
}

// Remediation returns one concrete action for a failure. It never returns "".
func Remediation(kind string, cat Category) string {
	if h, ok := hintsByKind[kind]; ok {
		return h
	}
	if h, ok := hintsByCategory[cat]; ok {
		return h
	}
	return hintsByCategory[CategoryUnknown]
}
