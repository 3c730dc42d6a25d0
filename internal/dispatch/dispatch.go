// Package dispatch turns a worker's matched rules into a ReviewResult and
// appends it to the action stream, mirroring
// original_source/src/infra/dispatcher.py's ReviewResultDispatcher.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/bittoy/reviewpipe/internal/types"
)

// Broker appends a serialized ReviewResult onto the downstream action
// stream. internal/redisbroker.ActionBroker is the concrete
// implementation.
type Broker interface {
	XAdd(ctx context.Context, payload []byte) error
}

type Dispatcher struct {
	broker Broker
	logger types.Logger
}

func New(broker Broker, logger types.Logger) *Dispatcher {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Dispatcher{broker: broker, logger: logger}
}

// Dispatch builds a ReviewResult from matched and pushes it to the action
// stream. A broker failure is logged and swallowed: dispatch failures must
// never cause a worker to redeliver (and thus re-evaluate) an event it has
// already matched.
func (d *Dispatcher) Dispatch(ctx context.Context, fid int64, obj types.ContentObject, matched []*types.Rule, fnResults map[string]any) {
	if len(matched) == 0 {
		return
	}

	ids := make([]int64, len(matched))
	for i, rule := range matched {
		ids[i] = rule.ID
	}

	eventID, err := uuid.NewV4()
	if err != nil {
		d.logger.Errorf("dispatch: generate event id for fid %d: %v", fid, err)
		return
	}

	result := types.ReviewResult{
		EventID:             eventID.String(),
		Fid:                 fid,
		MatchedRuleIDs:      ids,
		ObjectType:          obj.Kind,
		ObjectData:          obj.ToMap(),
		FunctionCallResults: fnResults,
		Timestamp:           float64(time.Now().UnixNano()) / 1e9,
	}

	payload, err := json.Marshal(result)
	if err != nil {
		d.logger.Errorf("dispatch: marshal result for fid %d: %v", fid, err)
		return
	}

	if err := d.broker.XAdd(ctx, payload); err != nil {
		d.logger.Errorf("dispatch: xadd for fid %d: %v", fid, err)
		return
	}
	d.logger.Infof("dispatch: fid %d dispatched %d matched rules", fid, len(matched))
}
