package durable

import (
	"context"

	json "github.com/goccy/go-json"

	"github.com/capra-ai/capra/capability"
	"github.com/capra-ai/capra/fault"
)

// Unary executes call at most once per invocation key. A sealed record
// short-circuits the downstream call entirely, returning the recorded
// success or failure. Journal errors surface as Internal; no call result
// is ever returned without first being recorded.
func Unary[Req, Resp any](
	ctx context.Context,
	m *Manager,
	id capability.ID,
	op capability.Operation,
	req Req,
	call func(context.Context, Req) (Resp, error),
) (Resp, error) {
	var zero Resp

	input, err := json.Marshal(req)
	if err != nil {
		return zero, fault.Wrap(fault.KindInternal, err, "encode %s input", op)
	}
	key := NewKey(id, op, input)

	unlock := m.lock(key)
	defer unlock()

	if out, ok, err := m.journal.LookupUnary(ctx, key); err != nil {
		return zero, fault.Wrap(fault.KindInternal, err, "journal lookup for %s", key)
	} else if ok {
		if out.Failure != nil {
			return zero, out.Failure
		}
		var resp Resp
		if err := json.Unmarshal(out.Result, &resp); err != nil {
			return zero, fault.Wrap(fault.KindInternal, err, "decode recorded outcome for %s", key)
		}
		return resp, nil
	}

	resp, callErr := call(ctx, req)
	var out Outcome
	if callErr != nil {
		out.Failure = fault.Promote(callErr)
	} else {
		encoded, err := json.Marshal(resp)
		if err != nil {
			return zero, fault.Wrap(fault.KindInternal, err, "encode outcome for %s", key)
		}
		out.Result = encoded
	}

	if err := m.journal.StoreUnary(ctx, key, out); err != nil {
		return zero, fault.Wrap(fault.KindInternal, err, "journal store for %s", key)
	}
	if out.Failure != nil {
		return zero, out.Failure
	}
	return resp, nil
}
