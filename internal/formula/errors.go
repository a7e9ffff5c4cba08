package formula

import "fmt"

// ErrorCode classifies a formula error. Codes follow the spreadsheet
// convention where one exists (#DIV/0!, #VALUE!, ...).
type ErrorCode uint8

const (
	ErrorCodeParse    ErrorCode = 1 // malformed formula text
	ErrorCodeRef      ErrorCode = 2 // #REF! - unknown scalar, table or column
	ErrorCodeCircular ErrorCode = 3 // circular dependency between formulas
	ErrorCodeArity    ErrorCode = 4 // argument count outside the declared range
	ErrorCodeValue    ErrorCode = 5 // #VALUE! - argument could not be coerced
	ErrorCodeNum      ErrorCode = 6 // #NUM! - invalid input for the function
	ErrorCodeDiv0     ErrorCode = 7 // #DIV/0! - division by zero
	ErrorCodeNA       ErrorCode = 8 // #N/A - lookup found nothing
	ErrorCodeName     ErrorCode = 9 // #NAME? - unrecognized function name
)

// ErrorMapper maps error codes to their display names
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeParse:    "#PARSE!",
	ErrorCodeRef:      "#REF!",
	ErrorCodeCircular: "#CIRCULAR!",
	ErrorCodeArity:    "#ARGS!",
	ErrorCodeValue:    "#VALUE!",
	ErrorCodeNum:      "#NUM!",
	ErrorCodeDiv0:     "#DIV/0!",
	ErrorCodeNA:       "#N/A",
	ErrorCodeName:     "#NAME?",
}

// FormulaError is the single error type produced by parsing, dependency
// resolution and evaluation. The message is surfaced verbatim.
type FormulaError struct {
	Code    ErrorCode
	Message string
}

func (e *FormulaError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrorMapper[e.Code]
}

func NewFormulaError(code ErrorCode, message string) *FormulaError {
	if message == "" {
		message = ErrorMapper[code]
	}
	return &FormulaError{
		Code:    code,
		Message: message,
	}
}

// Errorf builds a FormulaError with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *FormulaError {
	return NewFormulaError(code, fmt.Sprintf(format, args...))
}

// ArityError reports an argument count outside [min, max]. A negative max
// means the function is variadic.
func ArityError(name string, min, max, got int) *FormulaError {
	switch {
	case min == max:
		return Errorf(ErrorCodeArity, "%s requires %d argument(s), got %d", name, min, got)
	case max < 0:
		return Errorf(ErrorCodeArity, "%s requires at least %d argument(s), got %d", name, min, got)
	default:
		return Errorf(ErrorCodeArity, "%s requires %d-%d arguments, got %d", name, min, max, got)
	}
}

// AppErrorCode represents gRPC-style error codes for application-level
// errors: loading, budgets and command handling.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// Unknown error.
	Unknown AppErrorCode = 2

	// InvalidArgument indicates the caller supplied an invalid model or flag.
	InvalidArgument AppErrorCode = 3

	// DeadlineExceeded means the calculation was cancelled or ran past its
	// deadline before finishing.
	DeadlineExceeded AppErrorCode = 4

	// NotFound means some requested entity (file, scenario, variable) was
	// not found.
	NotFound AppErrorCode = 5

	// AlreadyExists means an attempt to create an entity failed because one
	// already exists.
	AlreadyExists AppErrorCode = 6

	// ResourceExhausted indicates the evaluation step budget ran out.
	ResourceExhausted AppErrorCode = 8

	// FailedPrecondition indicates the model is not in a state that can be
	// calculated, e.g. ragged table columns.
	FailedPrecondition AppErrorCode = 9

	// Internal errors. Means some assumptions the engine relies on have
	// been broken.
	Internal AppErrorCode = 13
)

// AppError represents errors at the application level (not formula errors)
type AppError struct {
	Code    AppErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}
