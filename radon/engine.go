package radon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/radon/radonerr"
)

// Engine runs the three RAD stages: retrieval, aggregation and tally. It
// owns a bounded pool of concurrent retrievals (so a data request with many
// sources cannot open unbounded outbound connections) and the shared HTTP
// client those retrievals use.
type Engine struct {
	httpClient *http.Client
	sem        *semaphore.Weighted
}

// NewEngine constructs an Engine whose RunRetrieval calls never run more
// than maxConcurrentRetrievals at once, each bounded by perSourceTimeout.
func NewEngine(maxConcurrentRetrievals int64, perSourceTimeout time.Duration) *Engine {
	return &Engine{
		httpClient: &http.Client{Timeout: perSourceTimeout},
		sem:        semaphore.NewWeighted(maxConcurrentRetrievals),
	}
}

// RunRetrieval fetches a single data source and applies its retrieval
// script. A malformed script is an infrastructure fault and returns a Go
// error; anything that happens while actually reaching the source (network
// failure, timeout, non-2xx status, bad JSON) resolves to a RadonError
// value instead, since the tally stage must be able to see and count it.
func (e *Engine) RunRetrieval(ctx context.Context, retrieve chain.RADRetrieve) (Value, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Value{}, fmt.Errorf("radon: retrieval pool: %w", err)
	}
	defer e.sem.Release(1)

	calls, err := UnpackScript(retrieve.Script)
	if err != nil {
		return Value{}, err
	}

	var input Value
	switch retrieve.Kind {
	case chain.RADTypeConstant:
		input = NewString(retrieve.URL)

	case chain.RADTypeHTTPGet:
		body, radErr := e.fetchHTTP(ctx, retrieve.URL)
		if radErr != nil {
			return NewError(radErr), nil
		}
		input = NewString(body)

	default:
		return NewError(radonerr.New(radonerr.UnsupportedOperator, fmt.Sprintf("unknown RAD type %d", retrieve.Kind))), nil
	}

	return ExecuteScript(input, calls), nil
}

func (e *Engine) fetchHTTP(ctx context.Context, url string) (string, *radonerr.Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", radonerr.New(radonerr.HTTPError, err.Error())
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", radonerr.New(radonerr.RetrieveTimeout, url)
		}
		return "", radonerr.New(radonerr.HTTPError, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", radonerr.New(radonerr.HTTPError, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", radonerr.New(radonerr.HTTPError, err.Error())
	}
	return string(body), nil
}

// RunAggregation builds an Array from per-source retrieval results and
// executes the aggregation script over it.
func (e *Engine) RunAggregation(values []Value, script []byte) (Value, error) {
	calls, err := UnpackScript(script)
	if err != nil {
		return Value{}, err
	}
	return ExecuteScript(NewArray(values), calls), nil
}

// RunTally executes the consensus stage across reveals. It never returns a
// Go error: every failure, including a panic escaping an operator
// implementation, resolves to a RadonError value so the caller can always
// embed the result directly into a Tally output.
func (e *Engine) RunTally(values []Value, script []byte) (result Value) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("radon: recovered panic during tally execution: %v", r)
			result = NewError(radonerr.New(radonerr.UnhandledIntercept, fmt.Sprintf("%v", r)))
		}
	}()

	calls, err := UnpackScript(script)
	if err != nil {
		return NewError(radonerr.New(radonerr.SourceScriptNotRADON, err.Error()))
	}

	return ExecuteScript(NewArray(values), calls)
}
