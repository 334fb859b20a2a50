package cdpdrive

import (
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/runtime"

	"github.com/corvus-labs/cdpdrive/evalresult"
)

// EvaluateOption adjusts a runtime.EvaluateParams before it's sent, kept
// in the same shape as the teacher's own evaluate options so callers
// already familiar with them (object group, command line API,
// ignore-exceptions) carry over unchanged.
type EvaluateOption = func(*runtime.EvaluateParams) *runtime.EvaluateParams

// EvalObjectGroup sets the object group for the evaluated expression.
func EvalObjectGroup(objectGroup string) EvaluateOption {
	return func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithObjectGroup(objectGroup)
	}
}

// EvalWithCommandLineAPI makes the DevTools Command Line API available to
// the evaluated script.
//
// Note: this should not be used with untrusted Javascript.
func EvalWithCommandLineAPI(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithIncludeCommandLineAPI(true)
}

// EvalIgnoreExceptions causes evaluation to ignore exceptions.
func EvalIgnoreExceptions(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithSilent(true)
}

// decodeRemoteObject converts a Runtime.RemoteObject into out, using
// package evalresult's tagged-union decoder to get a plain Go value and
// then routing through a JSON round-trip for anything out isn't a bare
// *interface{}.
func decodeRemoteObject(obj *runtime.RemoteObject, out interface{}) error {
	if out == nil {
		return nil
	}
	value, err := evalresult.Parse(obj)
	if err != nil {
		return fmt.Errorf("parsing evaluation result: %w", err)
	}
	if ptr, ok := out.(*interface{}); ok {
		*ptr = value
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("re-marshaling evaluation result: %w", err)
	}
	return json.Unmarshal(data, out)
}
