// Package workflow runs one load-test iteration: connect, Set, Get, an
// optional Delete, and close, validating each response on the way.
package workflow

import (
	"context"
	"time"

	"github.com/redis-performance/grpc-cache-loadtest/internal/check"
	"github.com/redis-performance/grpc-cache-loadtest/internal/keyspace"
	"github.com/redis-performance/grpc-cache-loadtest/internal/target"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
)

// Settings are shared read-only by every iteration of a run.
type Settings struct {
	Address   string
	Options   target.Options
	KeyPrefix string
	// OpTimeout bounds each RPC; 0 leaves only the caller's context.
	OpTimeout time.Duration
	Deletion  keyspace.DeletionPolicy
}

// Step records one RPC.
type Step struct {
	Op      string
	Latency time.Duration
	Status  codes.Code
	Err     error
	Checks  []check.Result
}

// Report is everything one iteration observed.
type Report struct {
	Context        keyspace.ClientContext
	Key            string
	ConnectLatency time.Duration
	// DeletePlanned is the policy decision; false until Get has run.
	DeletePlanned bool
	Steps         []Step
	Duration      time.Duration
}

// Checks returns all check results in evaluation order.
func (r *Report) Checks() []check.Result {
	var out []check.Result
	for _, s := range r.Steps {
		out = append(out, s.Checks...)
	}
	return out
}

// Shape is "full" when the Delete step ran and "partial" otherwise.
func (r *Report) Shape() string {
	for _, s := range r.Steps {
		if s.Op == target.OpDelete {
			return "full"
		}
	}
	return "partial"
}

// Iteration is the body each simulated client runs repeatedly.
type Iteration struct {
	connector target.Connector
	settings  Settings
	log       *logrus.Entry
}

func New(connector target.Connector, settings Settings, log *logrus.Entry) *Iteration {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Iteration{connector: connector, settings: settings, log: log}
}

func invoke[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (*T, error)) (*T, time.Duration, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := call(ctx)
	return resp, time.Since(start), err
}

// Run executes one iteration. The error is a *target.ConnectionError when
// connect failed (the report then has no steps) or a *target.RPCError when
// a call got no response (the report ends with that step). Check failures
// are recorded in the report only.
func (it *Iteration) Run(ctx context.Context, cc keyspace.ClientContext) (*Report, error) {
	start := time.Now()
	key := keyspace.DeriveKey(it.settings.KeyPrefix, cc)
	report := &Report{Context: cc, Key: key}
	defer func() { report.Duration = time.Since(start) }()

	log := it.log.WithFields(logrus.Fields{"vu": cc.ClientID, "iter": cc.IterationID, "key": key})

	client, err := it.connector.Connect(ctx, it.settings.Address, it.settings.Options)
	report.ConnectLatency = time.Since(start)
	if err != nil {
		if !target.IsConnectionError(err) {
			err = &target.ConnectionError{Address: it.settings.Address, Err: err}
		}
		log.WithError(err).Warn("connect failed")
		return report, err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.WithError(err).Debug("close failed")
		}
	}()

	value := keyspace.Encode(key)
	timeout := it.settings.OpTimeout

	setResp, latency, err := invoke(ctx, timeout, func(ctx context.Context) (*target.Response, error) {
		return client.Set(ctx, key, value)
	})
	step := Step{Op: target.OpSet, Latency: latency, Err: err, Checks: check.Evaluate(setResp, setChecks...)}
	step.Status = codes.Unknown
	if setResp != nil {
		step.Status = setResp.Status
	}
	report.Steps = append(report.Steps, step)
	if err != nil {
		log.WithError(err).Warn("SET failed")
		return report, err
	}
	log.WithField("status", setResp.Status).Debug("SET")

	getResp, latency, err := invoke(ctx, timeout, func(ctx context.Context) (*target.GetResponse, error) {
		return client.Get(ctx, key)
	})
	step = Step{Op: target.OpGet, Latency: latency, Err: err, Checks: check.Evaluate(getResp, getChecks(key)...)}
	step.Status = codes.Unknown
	if getResp != nil {
		step.Status = getResp.Status
	}
	report.Steps = append(report.Steps, step)
	if err != nil {
		log.WithError(err).Warn("GET failed")
		return report, err
	}
	log.WithFields(getFields(getResp)).Debug("GET")

	report.DeletePlanned = it.settings.Deletion.ShouldDelete(cc.ClientID)
	if !report.DeletePlanned {
		return report, nil
	}

	delResp, latency, err := invoke(ctx, timeout, func(ctx context.Context) (*target.Response, error) {
		return client.Delete(ctx, key)
	})
	step = Step{Op: target.OpDelete, Latency: latency, Err: err, Checks: check.Evaluate(delResp, deleteChecks...)}
	step.Status = codes.Unknown
	if delResp != nil {
		step.Status = delResp.Status
	}
	report.Steps = append(report.Steps, step)
	if err != nil {
		log.WithError(err).Warn("DELETE failed")
		return report, err
	}
	log.WithField("status", delResp.Status).Debug("DELETE")
	return report, nil
}

// getFields shows the decoded value, or the raw text when it does not
// decode.
func getFields(resp *target.GetResponse) logrus.Fields {
	fields := logrus.Fields{"status": resp.Status, "found": resp.Found}
	decoded, err := keyspace.Decode(resp.Value)
	if err != nil {
		fields["raw_value"] = resp.Value
		fields["decode_error"] = err.Error()
		return fields
	}
	fields["value"] = decoded
	return fields
}
