package types

// ErrorInfo is the Frame field populated on a raised error and consumed by
// catch (spec.md §3 Frame field error_info).
type ErrorInfo struct {
	Code        ErrorCode
	Message     string
	Instruction string
	Line        int
	Program     ObjID
}
