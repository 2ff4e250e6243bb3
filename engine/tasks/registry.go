package tasks

import (
	"github.com/go-resty/resty/v2"

	"github.com/idc-core/idc/engine/action"
	"github.com/idc-core/idc/engine/task"
	"github.com/idc-core/idc/engine/version"
)

type Dependencies struct {
	Versions   *version.Service
	HTTPClient *resty.Client
}

// NewRegistry returns a registry with every builtin function bound.
func NewRegistry(deps Dependencies) (*action.Registry, error) {
	reg := action.NewRegistry()
	docs := NewDocuments(deps.Versions)
	handlers := map[task.Function]action.Handler{
		task.FunctionCreateDocument:  action.HandlerFunc(docs.Create),
		task.FunctionUpdateDocument:  action.HandlerFunc(docs.Update),
		task.FunctionDeleteDocument:  action.HandlerFunc(docs.Delete),
		task.FunctionRestoreDocument: action.HandlerFunc(docs.Restore),
		task.FunctionRevertDocument:  action.HandlerFunc(docs.Revert),
		task.FunctionFindDocuments:   action.HandlerFunc(docs.Find),
		task.FunctionHTTPRequest:     NewHTTPRequest(deps.HTTPClient),
		task.FunctionHashString:      action.HandlerFunc(hashString),
		task.FunctionSuccess:         action.HandlerFunc(success),
		task.FunctionError:           action.HandlerFunc(fail),
	}
	for fn, h := range handlers {
		if err := reg.Register(fn, h); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
