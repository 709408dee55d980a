package ldapwire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/netresearch/ldap-wire-go/internal/ber"
)

// Client is the operation executor: it checks connections out of the
// pool, issues requests, classifies outcomes, and drives the
// retry-once-on-connection-failure algorithm and multi-page search
// traversal to completion.
type Client struct {
	config   *Config
	logger   *slog.Logger
	pool     *ConnectionPool
	classify ResultClassifier
}

// New creates a Client for the given configuration.
func New(config *Config, opts ...Option) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	client := &Client{
		config: config,
		logger: config.logger(),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = config.logger()
	client.classify = config.classifier()

	pool, err := NewConnectionPool(config.Pool, config, client.logger)
	if err != nil {
		client.logger.Error("client_initialization_failed",
			slog.String("server", config.Address),
			slog.String("error", err.Error()))
		return nil, err
	}
	client.pool = pool

	client.logger.Info("client_initialized",
		slog.String("server", config.Address))
	return client, nil
}

// Close shuts down the client and its connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

// Stats returns connection pool statistics.
func (c *Client) Stats() PoolStats {
	return c.pool.Stats()
}

// Execute issues one protocol operation and returns its Result. The
// Result is non-nil whenever the error is nil; transport failures appear
// as client-side result codes (timeout, server down, decoding error,
// connect error) so one classification table covers local and remote
// outcomes. An error return means the operation never produced a result:
// the caller cancelled, the pool was exhausted, or a callback failed.
//
// A connection-fatal first outcome replaces the connection and re-issues
// the identical request exactly once; the second attempt's Result is
// returned as-is. There is no third attempt.
func (c *Client) Execute(ctx context.Context, op *ber.Element, controls []Control) (*Result, error) {
	return c.execute(ctx, op, controls, nil)
}

func (c *Client) execute(ctx context.Context, op *ber.Element, controls []Control, onIntermediate func(*Message) error) (*Result, error) {
	operationsTotal.Inc()

	conn, err := c.pool.Checkout(ctx)
	if err != nil {
		operationFailures.Inc()
		return nil, err
	}

	result, err := c.attempt(ctx, conn, op, controls, onIntermediate)
	if err != nil {
		// Cancellation or a callback failure: never retried. The abandon
		// already happened; the connection goes back if it survived.
		c.pool.Checkin(conn)
		operationFailures.Inc()
		return nil, err
	}
	if c.classify(result.ResultCode) != ClassConnectionFatal {
		// Success and connection-usable errors alike: the connection
		// stays in rotation and the result goes to the caller. No retry.
		c.pool.Checkin(conn)
		return result, nil
	}

	c.logger.Warn("operation_retrying_on_replacement",
		slog.String("server", c.config.Address),
		slog.String("result_code", result.ResultCode.String()))
	operationRetries.Inc()

	replacement, err := c.pool.ReplaceDefunct(ctx, conn)
	if err != nil {
		operationFailures.Inc()
		if errors.Is(err, ErrPoolClosed) {
			return nil, err
		}
		return localResult(ResultConnectError, err.Error()), nil
	}

	result, err = c.attempt(ctx, replacement, op, controls, onIntermediate)
	c.pool.Checkin(replacement)
	if err != nil {
		operationFailures.Inc()
		return nil, err
	}
	if c.classify(result.ResultCode) != ClassSuccess {
		operationFailures.Inc()
	}
	return result, nil
}

// attempt runs one request on one connection, translating transport
// failures into client-side result codes.
func (c *Client) attempt(ctx context.Context, conn *Conn, op *ber.Element, controls []Control, onIntermediate func(*Message) error) (*Result, error) {
	pr, err := conn.send(op, controls)
	if err != nil {
		return localResult(ResultServerDown, err.Error()), nil
	}

	result, err := conn.awaitResult(ctx, pr, c.config.OperationTimeout, onIntermediate)
	if err == nil {
		return result, nil
	}
	switch {
	case errors.Is(err, ErrCancelled):
		return nil, err
	case errors.Is(err, ErrTimeout):
		return localResult(ResultTimeout, fmt.Sprintf("no response within %s", c.config.OperationTimeout)), nil
	case errors.Is(err, ErrMalformedElement), errors.Is(err, ErrMalformedMessage):
		return localResult(ResultDecodingError, err.Error()), nil
	case errors.Is(err, ErrConnectionDefunct), errors.Is(err, ErrConnectionClosed):
		return localResult(ResultServerDown, err.Error()), nil
	default:
		// a callback error from onIntermediate; surfaced, never retried
		return nil, err
	}
}

// Search runs a single-request search, collecting entries into the
// result. Use SearchPaged for result sets that need paging.
func (c *Client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	state := newSearchTraversalState(SearchCallbacks{})
	state.callbacks.OnEntry = func(e *Entry) {
		state.result.Entries = append(state.result.Entries, e)
	}
	state.beginPage()

	result, err := c.execute(ctx, req.encode(), req.Controls, state.onMessage)
	if err != nil {
		return nil, err
	}
	state.result.Result = *result
	state.result.PagesRetrieved = 1
	return state.result, nil
}

// SearchPaged runs a search under the simple paged results control,
// driving the continuation cookie loop until the server reports no
// further pages or a page returns a non-success Result. Entries and
// references stream through the callbacks; the returned SearchResult
// carries the final page's Result plus cumulative totals.
//
// Each page resets the duplicate-suppression set and per-page counters;
// the cumulative totals are never reset. Cancelling the context abandons
// the in-flight request and terminates the loop without starting another
// page.
func (c *Client) SearchPaged(ctx context.Context, req *SearchRequest, pageSize int32, callbacks SearchCallbacks) (*SearchResult, error) {
	state := newSearchTraversalState(callbacks)
	var cookie []byte

	for {
		state.beginPage()
		searchPages.Inc()

		pageControl := &PagedResultsControl{Size: pageSize, Cookie: cookie}
		controls := append(slices.Clone(req.Controls), pageControl.Control())

		result, err := c.execute(ctx, req.encode(), controls, state.onMessage)
		if err != nil {
			// Partial progress stands: callbacks already invoked are not
			// retracted, but the traversal is reported failed.
			return state.result, err
		}
		state.result.Result = *result
		state.result.PagesRetrieved++

		c.logger.Debug("search_page_completed",
			slog.String("server", c.config.Address),
			slog.Int("page", state.result.PagesRetrieved),
			slog.Int("entries", state.pageEntries),
			slog.Int("references", state.pageReferences),
			slog.String("result_code", result.ResultCode.String()))

		if c.classify(result.ResultCode) != ClassSuccess {
			// never page past an error
			return state.result, nil
		}

		pageResponse, err := FindPagedResultsControl(result.Controls)
		if err != nil {
			// The paging control is the one control this loop explicitly
			// asked for, so its decode failure surfaces.
			return state.result, err
		}
		if pageResponse == nil || len(pageResponse.Cookie) == 0 {
			return state.result, nil
		}
		cookie = pageResponse.Cookie

		if ctx.Err() != nil {
			return state.result, ErrCancelled
		}
	}
}
