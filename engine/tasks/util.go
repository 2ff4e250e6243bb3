package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/idc-core/idc/engine/action"
	"github.com/idc-core/idc/engine/compensation"
)

var ErrSimulated = errors.New("simulated task error")

func hashString(_ context.Context, inv *action.Invocation) error {
	params, err := decodeParams[hashStringParams](inv)
	if err != nil {
		return err
	}
	sum := sha256.Sum256([]byte(params.UnhashedString))
	inv.Results["hashed_string"] = hex.EncodeToString(sum[:])
	inv.Exec.Compensations.Push(compensation.UnsetTaskResult(inv.Definition.Name, "hashed_string"))
	inv.Metrics.SetSuccess(true)
	return nil
}

func success(_ context.Context, inv *action.Invocation) error {
	inv.Results["hello"] = "world"
	inv.Metrics.SetSuccess(true)
	return nil
}

func fail(context.Context, *action.Invocation) error {
	return ErrSimulated
}
