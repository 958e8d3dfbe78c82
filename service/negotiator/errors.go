package negotiator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"PRelay/tools/errs"
)

const reasonInvalidCredential = "invalid_credential"

// classifyNet maps a dial/request failure onto the transport taxonomy.
func classifyNet(ctx context.Context, err error, what string) error {
	var (
		dnsErr *net.DNSError
		ne     net.Error
		opErr  *net.OpError
	)
	switch {
	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return errs.ErrTransportTimeout.WrapErr(err, what)
	case errors.As(err, &dnsErr):
		return errs.ErrUnreachable.WrapErr(err, what, "host", dnsErr.Name)
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return errs.ErrTransportError.WrapErr(err, what)
	case errors.As(err, &opErr):
		return errs.ErrUnreachable.WrapErr(err, what)
	default:
		return errs.ErrTransportError.WrapErr(err, what)
	}
}

// classifyStatus maps a non-success handshake status. body is a short sample.
func classifyStatus(code int, body string, what string) error {
	detail := fmt.Sprintf("%s -> %d", what, code)
	switch code {
	case http.StatusUnauthorized:
		return errs.ErrAuthRejected.WrapMsg(reasonInvalidCredential, "status", code)
	case http.StatusForbidden:
		// gorilla answers a failed origin check with 403
		return errs.ErrNotAdmitted.WrapMsg("origin rejected", "status", code, "body", body)
	case http.StatusNotFound:
		return errs.ErrNotFound.WrapMsg(detail, "body", body)
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return errs.ErrTransportTimeout.WrapMsg(detail)
	default:
		return errs.ErrTransportError.WrapMsg(detail, "body", body)
	}
}
