package task

import (
	"fmt"
	"slices"
)

// Function names a registered task handler.
type Function string

const (
	FunctionCreateDocument  Function = "create_document"
	FunctionUpdateDocument  Function = "update_document"
	FunctionDeleteDocument  Function = "delete_document"
	FunctionRestoreDocument Function = "restore_document"
	FunctionRevertDocument  Function = "revert_document"
	FunctionFindDocuments   Function = "find_documents"
	FunctionHTTPRequest     Function = "http_request"
	FunctionHashString      Function = "hash_string"
	FunctionSuccess         Function = "success"
	FunctionError           Function = "error"
)

var allFunctions = []Function{
	FunctionCreateDocument,
	FunctionUpdateDocument,
	FunctionDeleteDocument,
	FunctionRestoreDocument,
	FunctionRevertDocument,
	FunctionFindDocuments,
	FunctionHTTPRequest,
	FunctionHashString,
	FunctionSuccess,
	FunctionError,
}

// AllFunctions lists every built-in function name.
func AllFunctions() []Function {
	return slices.Clone(allFunctions)
}

func (f Function) String() string {
	return string(f)
}

func (f Function) IsBuiltin() bool {
	return slices.Contains(allFunctions, f)
}

// ParseFunction validates a raw function name against the built-in set.
func ParseFunction(raw string) (Function, error) {
	fn := Function(raw)
	if !fn.IsBuiltin() {
		return "", fmt.Errorf("%w: unknown function %q", ErrInvalidDefinition, raw)
	}
	return fn, nil
}
