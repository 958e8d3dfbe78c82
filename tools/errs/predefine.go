package errs

const (
	BadRequestCode       = 400
	AuthRejectedCode     = 401
	NotAdmittedCode      = 403
	NotFoundCode         = 404
	RoomRequiredCode     = 422
	ServerInternalError  = 500
	TransportErrorCode   = 502
	UnreachableCode      = 503
	TransportTimeoutCode = 504
	ProtocolMismatchCode = 505
)

// Failure reason reported to clients whose credential is absent or wrong.
const ReasonInvalidCredential = "invalid_credential"

var (
	ErrBadRequest       = NewCodeError(BadRequestCode, "BadRequest")
	ErrAuthRejected     = NewCodeError(AuthRejectedCode, "AuthRejected")
	ErrNotFound         = NewCodeError(NotFoundCode, "NotFound")
	ErrNotAdmitted      = NewCodeError(NotAdmittedCode, "NotAdmitted")
	ErrRoomRequired     = NewCodeError(RoomRequiredCode, "RoomRequired")
	ErrInternal         = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrTransportError   = NewCodeError(TransportErrorCode, "TransportError")
	ErrUnreachable      = NewCodeError(UnreachableCode, "Unreachable")
	ErrTransportTimeout = NewCodeError(TransportTimeoutCode, "TransportTimeout")
	ErrProtocolMismatch = NewCodeError(ProtocolMismatchCode, "ProtocolMismatch")
)

var kinds = map[int]string{
	BadRequestCode:       ErrBadRequest.Msg,
	AuthRejectedCode:     ErrAuthRejected.Msg,
	NotFoundCode:         ErrNotFound.Msg,
	NotAdmittedCode:      ErrNotAdmitted.Msg,
	RoomRequiredCode:     ErrRoomRequired.Msg,
	ServerInternalError:  ErrInternal.Msg,
	TransportErrorCode:   ErrTransportError.Msg,
	UnreachableCode:      ErrUnreachable.Msg,
	TransportTimeoutCode: ErrTransportTimeout.Msg,
	ProtocolMismatchCode: ErrProtocolMismatch.Msg,
}

// Kind names the taxonomy entry of err ("AuthRejected", "TransportTimeout", ...).
// Errors outside the taxonomy report "Unknown".
func Kind(err error) string {
	if k, ok := kinds[Code(err)]; ok {
		return k
	}
	return "Unknown"
}
