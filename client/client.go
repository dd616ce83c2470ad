package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ExplainMode selects the analyze explain output format. The set is closed;
// anything outside it is rejected before any network call.
type ExplainMode int32

const (
	ExplainSimple ExplainMode = iota
	ExplainExtended
	ExplainCodegen
	ExplainCost
	ExplainFormatted
)

var explainModeNames = map[ExplainMode]string{
	ExplainSimple:    "simple",
	ExplainExtended:  "extended",
	ExplainCodegen:   "codegen",
	ExplainCost:      "cost",
	ExplainFormatted: "formatted",
}

// ParseExplainMode maps an explain mode name to its enum value.
func ParseExplainMode(s string) (ExplainMode, error) {
	for mode, name := range explainModeNames {
		if name == s {
			return mode, nil
		}
	}
	return 0, &InvalidExplainModeError{Mode: s}
}

func (m ExplainMode) String() string {
	if name, ok := explainModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("ExplainMode(%d)", int32(m))
}

func (m ExplainMode) valid() bool {
	_, ok := explainModeNames[m]
	return ok
}

// Client is a session with a remote compute engine. It owns its channel and
// a session id generated at construction; a new client always means a new
// session. Public calls are self-contained (each builds its own request and
// runs its own retry loop), so a Client may be shared across goroutines as
// far as the underlying gRPC channel allows.
type Client struct {
	desc      *ConnectionDescriptor
	fc        flight.Client
	sessionID string
	userID    string
	policy    RetryPolicy
	logger    *slog.Logger
	alloc     memory.Allocator
	dialOpts  []grpc.DialOption
}

// Option configures a Client before its channel is built.
type Option func(*Client)

// WithUserID sets the user identity; it takes precedence over the
// connection string's user_id parameter and the USER environment fallback.
func WithUserID(id string) Option {
	return func(c *Client) { c.userID = id }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithLogger sets the logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithDialOptions appends low-level channel options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

// WithAllocator sets the arrow allocator used to decode result batches.
func WithAllocator(alloc memory.Allocator) Option {
	return func(c *Client) { c.alloc = alloc }
}

// New parses the connection string, builds the channel and mints a fresh
// session id. No network I/O happens until the first call.
func New(connectionString string, opts ...Option) (*Client, error) {
	desc, err := ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}
	c := &Client{
		desc:      desc,
		sessionID: uuid.NewString(),
		policy:    DefaultRetryPolicy(),
		logger:    slog.Default(),
		alloc:     memory.DefaultAllocator,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.userID == "" {
		if id, ok := desc.UserID(); ok {
			c.userID = id
		} else {
			c.userID = os.Getenv("USER")
		}
	}
	fc, err := desc.BuildChannel(c.dialOpts...)
	if err != nil {
		return nil, err
	}
	c.fc = fc
	return c, nil
}

// SessionID returns the session identity minted at construction.
func (c *Client) SessionID() string { return c.sessionID }

// UserID returns the resolved user identity, possibly empty.
func (c *Client) UserID() string { return c.userID }

// Close releases the channel. Calls in flight fail with an ordinary
// transport error.
func (c *Client) Close() error {
	return c.fc.Close()
}

// retriable is the predicate shared by all calls: only "service temporarily
// unavailable" transport failures are worth another attempt.
func retriable(err error) bool {
	return status.Code(err) == codes.Unavailable
}

// invoke wraps one logical call in the retry loop, records metrics and
// translates whatever error survives into the typed taxonomy.
func (c *Client) invoke(ctx context.Context, method string, op func(context.Context) error) error {
	err := RetryWithPolicy(ctx, c.policy, func(err error) bool {
		if !retriable(err) {
			return false
		}
		observeRetry(method)
		c.logger.Debug("retrying call", "method", method, "error", err)
		return true
	}, func() error {
		observeAttempt(method)
		return op(ctx)
	})
	if err == nil {
		return nil
	}
	observeError(method, status.Code(err).String())
	return translateStatusError(err)
}

// Analyze reports the plan's static properties: schema, explain text, tree
// text, locality and streaming flags and input files.
func (c *Client) Analyze(ctx context.Context, plan []byte, mode ExplainMode) (*AnalyzeResult, error) {
	if !mode.valid() {
		return nil, &InvalidExplainModeError{Mode: mode.String()}
	}
	body, err := json.Marshal(analyzeRequest{
		SessionID:   c.sessionID,
		UserID:      c.userID,
		ClientType:  clientType,
		Plan:        plan,
		ExplainMode: int32(mode),
	})
	if err != nil {
		return nil, fmt.Errorf("encode analyze request: %w", err)
	}
	c.logger.Debug("analyzing plan", "mode", mode.String(), "plan_bytes", len(plan))

	var out *AnalyzeResult
	rpcErr := c.invoke(ctx, actionAnalyzePlan, func(ctx context.Context) error {
		stream, err := c.fc.DoAction(ctx, &flight.Action{Type: actionAnalyzePlan, Body: body})
		if err != nil {
			return err
		}
		res, err := stream.Recv()
		if err != nil {
			return err
		}
		var resp analyzeResponse
		if err := json.Unmarshal(res.GetBody(), &resp); err != nil {
			return fmt.Errorf("decode analyze response: %w", err)
		}
		if resp.SessionID != c.sessionID {
			return &SessionIdentityMismatchError{Expected: c.sessionID, Received: resp.SessionID}
		}
		schema, err := flight.DeserializeSchema(resp.Schema, c.alloc)
		if err != nil {
			return fmt.Errorf("deserialize result schema: %w", err)
		}
		out = &AnalyzeResult{
			Schema:        schema,
			ExplainString: resp.ExplainString,
			TreeString:    resp.TreeString,
			IsLocal:       resp.IsLocal,
			IsStreaming:   resp.IsStreaming,
			InputFiles:    resp.InputFiles,
		}
		return drainResults(stream, nil)
	})
	if rpcErr != nil {
		return nil, rpcErr
	}
	return out, nil
}

// Schema is an analyze convenience returning only the plan's result schema.
func (c *Client) Schema(ctx context.Context, plan []byte) (*arrow.Schema, error) {
	result, err := c.Analyze(ctx, plan, ExplainSimple)
	if err != nil {
		return nil, err
	}
	return result.Schema, nil
}

// ExplainString is an analyze convenience returning only the explain text.
func (c *Client) ExplainString(ctx context.Context, plan []byte, mode ExplainMode) (string, error) {
	result, err := c.Analyze(ctx, plan, mode)
	if err != nil {
		return "", err
	}
	return result.ExplainString, nil
}

// ExecuteCommand runs a side-effecting command (DDL, registration) and
// drains the response stream, validating the session echo of every message.
func (c *Client) ExecuteCommand(ctx context.Context, command []byte) error {
	body, err := json.Marshal(commandRequest{
		SessionID:  c.sessionID,
		UserID:     c.userID,
		ClientType: clientType,
		Command:    command,
	})
	if err != nil {
		return fmt.Errorf("encode command request: %w", err)
	}
	c.logger.Debug("executing command", "command_bytes", len(command))

	return c.invoke(ctx, actionExecuteCommand, func(ctx context.Context) error {
		stream, err := c.fc.DoAction(ctx, &flight.Action{Type: actionExecuteCommand, Body: body})
		if err != nil {
			return err
		}
		return drainResults(stream, func(body []byte) error {
			var res commandResult
			if err := json.Unmarshal(body, &res); err != nil {
				return fmt.Errorf("decode command result: %w", err)
			}
			if res.SessionID != c.sessionID {
				return &SessionIdentityMismatchError{Expected: c.sessionID, Received: res.SessionID}
			}
			return nil
		})
	})
}

// ExecuteAndFetch runs the plan and reassembles the streamed batches into a
// single table, capturing execution metrics when the stream carries them
// (last metrics block wins). A stream that ends without a single batch
// fails with ErrEmptyResultStream: even an empty result must arrive as at
// least one zero-row batch.
func (c *Client) ExecuteAndFetch(ctx context.Context, plan []byte) (*QueryResult, error) {
	ticket, err := json.Marshal(executeTicket{
		SessionID:  c.sessionID,
		UserID:     c.userID,
		ClientType: clientType,
		Plan:       plan,
	})
	if err != nil {
		return nil, fmt.Errorf("encode execute request: %w", err)
	}
	c.logger.Debug("executing plan", "plan_bytes", len(plan))

	var (
		batches []arrow.RecordBatch
		metrics []PlanMetrics
	)
	release := func() {
		for _, b := range batches {
			b.Release()
		}
		batches = nil
	}

	rpcErr := c.invoke(ctx, methodExecutePlan, func(ctx context.Context) error {
		// Each attempt accumulates from scratch.
		release()
		metrics = nil

		stream, err := c.fc.DoGet(ctx, &flight.Ticket{Ticket: ticket})
		if err != nil {
			return err
		}
		rdr, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.alloc))
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrEmptyResultStream
			}
			return err
		}
		defer rdr.Release()

		if err := c.checkSessionHeader(stream); err != nil {
			return err
		}

		for rdr.Next() {
			rec := rdr.RecordBatch()
			rec.Retain()
			batches = append(batches, rec)
			c.logger.Debug("received result batch", "rows", rec.NumRows())

			if meta := rdr.LatestAppMetadata(); len(meta) > 0 {
				var chunk chunkMetadata
				if err := json.Unmarshal(meta, &chunk); err != nil {
					return fmt.Errorf("decode chunk metadata: %w", err)
				}
				if chunk.SessionID != c.sessionID {
					return &SessionIdentityMismatchError{Expected: c.sessionID, Received: chunk.SessionID}
				}
				if chunk.Metrics != nil {
					metrics = chunk.Metrics
				}
			}
		}
		if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	})
	if rpcErr != nil {
		release()
		return nil, rpcErr
	}
	if len(batches) == 0 {
		return nil, ErrEmptyResultStream
	}
	return newQueryResult(batches, metrics), nil
}

// FetchTable is an execute convenience returning only the table.
func (c *Client) FetchTable(ctx context.Context, plan []byte) (arrow.Table, error) {
	result, err := c.ExecuteAndFetch(ctx, plan)
	if err != nil {
		return nil, err
	}
	return result.Table(), nil
}

// checkSessionHeader validates the session id echoed in the response
// headers of an ExecutePlan stream. A missing echo counts as a mismatch.
func (c *Client) checkSessionHeader(stream flight.FlightService_DoGetClient) error {
	md, err := stream.Header()
	if err != nil {
		return err
	}
	echoed := md.Get(sessionMetadataKey)
	if len(echoed) == 0 || echoed[0] != c.sessionID {
		return &SessionIdentityMismatchError{Expected: c.sessionID, Received: strings.Join(echoed, ",")}
	}
	return nil
}

// drainResults consumes an action result stream to EOF, handing each result
// body to inspect when provided.
func drainResults(stream flight.FlightService_DoActionClient, inspect func([]byte) error) error {
	for {
		res, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if inspect != nil {
			if err := inspect(res.GetBody()); err != nil {
				return err
			}
		}
	}
}
