package tasks

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/idc-core/idc/engine/action"
	"github.com/idc-core/idc/engine/task"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeParams decodes the evaluated params of inv into T and validates them.
func decodeParams[T any](inv *action.Invocation) (T, error) {
	params, err := action.Params[T](inv)
	if err != nil {
		return params, fmt.Errorf("%w: %w", task.ErrInvalidDefinition, err)
	}
	if err := validate.Struct(params); err != nil {
		return params, fmt.Errorf("%w: %w", task.ErrInvalidDefinition, err)
	}
	return params, nil
}

type createDocumentParams struct {
	CollectionName string         `mapstructure:"collection_name" validate:"required"`
	Payload        map[string]any `mapstructure:"payload"         validate:"required"`
}

type documentParams struct {
	IDCID string `mapstructure:"idc_id" validate:"required"`
}

type updateDocumentParams struct {
	IDCID  string `mapstructure:"idc_id" validate:"required"`
	Update any    `mapstructure:"update" validate:"required"`
}

type revertDocumentParams struct {
	IDCID      string `mapstructure:"idc_id"      validate:"required"`
	IDCVersion int64  `mapstructure:"idc_version" validate:"gt=0"`
}

type findDocumentsParams struct {
	CollectionName string         `mapstructure:"collection_name" validate:"required"`
	Filter         map[string]any `mapstructure:"filter"`
	Limit          int            `mapstructure:"limit"           validate:"gte=0"`
}

type httpRequestParams struct {
	URL     string            `mapstructure:"url"     validate:"required,url"`
	Method  string            `mapstructure:"method"  validate:"required"`
	Headers map[string]string `mapstructure:"headers"`
	Body    any               `mapstructure:"body"`
}

type hashStringParams struct {
	UnhashedString string `mapstructure:"unhashed_string" validate:"required"`
}
