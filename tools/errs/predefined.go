package errs

// Protocol / reference / admission codes reported to the sending connection.
const (
	WrongFormatError     = 1001
	MissingTypeError     = 1002
	UnknownTypeError     = 1003
	ChatNotAddedError    = 1101
	ChatNotFoundError    = 1102
	MessageNotFoundError = 1103
	TooManyRequestsError = 1201
	ServerInternalError  = 1500
)

var (
	ErrWrongFormat     = NewCodeError(WrongFormatError, "Wrong message format")
	ErrMissingType     = NewCodeError(MissingTypeError, "You should provide message type")
	ErrUnknownType     = NewCodeError(UnknownTypeError, "Type was not found")
	ErrChatNotAdded    = NewCodeError(ChatNotAddedError, "Chat has not been added")
	ErrChatNotFound    = NewCodeError(ChatNotFoundError, "Chat with provided guid does not exist")
	ErrMessageNotFound = NewCodeError(MessageNotFoundError, "Message with provided guid does not exist")
	ErrTooManyRequests = NewCodeError(TooManyRequestsError, "You have sent too many requests")
)
