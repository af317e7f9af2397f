package actions

import (
	"encoding/base64"

	"github.com/tzrikka/spoa/pkg/spop"
)

// messageArgs renders a [spop.Message]'s arguments as a JSON-friendly map,
// suitable for a Temporal workflow's input.
func messageArgs(args []spop.KV) map[string]any {
	m := make(map[string]any, len(args))
	for _, kv := range args {
		m[kv.Name] = typedDataToJSON(kv.Value)
	}
	return m
}

func typedDataToJSON(d spop.TypedData) any {
	switch d.Type {
	case spop.TypeNull:
		return nil
	case spop.TypeBool:
		return d.Bool
	case spop.TypeInt32:
		return int64(d.Int32)
	case spop.TypeUint32:
		return uint64(d.Uint32)
	case spop.TypeInt64:
		return d.Int64
	case spop.TypeUint64:
		return d.Uint64
	case spop.TypeIPv4, spop.TypeIPv6:
		return d.IP.String()
	case spop.TypeString:
		return d.String
	case spop.TypeBinary:
		return base64.StdEncoding.EncodeToString(d.Binary)
	default:
		return nil
	}
}

// jsonToTypedData converts a JSON-decoded value from an [ActionDescriptor]
// into the closest [spop.TypedData] representation. JSON's number type
// always decodes as float64, so integers are recovered as INT64.
func jsonToTypedData(v any) spop.TypedData {
	switch x := v.(type) {
	case nil:
		return spop.Null()
	case bool:
		return spop.Bool(x)
	case float64:
		return spop.Int64(int64(x))
	case string:
		return spop.String(x)
	default:
		return spop.Null()
	}
}

// varScope maps an [ActionDescriptor]'s scope name to a [spop.VarScope].
// "session" and unrecognized names both map to [spop.ScopeSession].
func varScope(name string) spop.VarScope {
	switch name {
	case "process":
		return spop.ScopeProcess
	case "transaction":
		return spop.ScopeTransaction
	case "request":
		return spop.ScopeRequest
	case "response":
		return spop.ScopeResponse
	default:
		return spop.ScopeSession
	}
}

// toActions converts the workflow-returned decisions into wire-ready
// [spop.Action] values.
func toActions(decisions []ActionDescriptor) []spop.Action {
	actions := make([]spop.Action, 0, len(decisions))
	for _, d := range decisions {
		scope := varScope(d.Scope)
		if d.Unset {
			actions = append(actions, spop.UnsetVar(scope, d.Name))
			continue
		}
		actions = append(actions, spop.SetVar(scope, d.Name, jsonToTypedData(d.Value)))
	}
	return actions
}
