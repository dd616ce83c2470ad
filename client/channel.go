// Package client implements the Lakelink session client: it parses
// connection strings, builds (possibly TLS) Arrow Flight channels, ships
// opaque serialized plans to the engine inside session-tagged envelopes,
// retries transient transport failures with jittered exponential backoff,
// reassembles streamed record batches into tables and translates structured
// server errors into a typed taxonomy.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const (
	// Scheme is the required connection string scheme.
	Scheme = "lk"

	// DefaultPort is used when the connection string names no port.
	DefaultPort = 15002

	schemePrefix = Scheme + "://"

	// Reserved connection parameters. They configure the channel and are
	// not forwarded as call metadata.
	paramToken  = "token"
	paramUseSSL = "use_ssl"
	paramUserID = "user_id"
	paramCACert = "ca_cert"

	// envTesting marks test mode; the default port is then read from
	// envTestPort, which the test harness points at a dynamically bound
	// server instead of the fixed default.
	envTesting  = "LAKELINK_TESTING"
	envTestPort = "LAKELINK_TEST_PORT"
)

// MaxGRPCMessageSize is the max gRPC message size for engine responses.
// Result batches can easily exceed the default 4MB limit.
const MaxGRPCMessageSize = 1 << 30 // 1GB

// ConnectionDescriptor is the parsed, immutable form of a connection string
// of the shape lk://host[:port][/][;key=value]*.
type ConnectionDescriptor struct {
	host   string
	port   int
	params map[string]string
}

// ParseConnectionString parses and validates a connection string. Parameter
// values are percent-decoded; duplicate keys keep the last value.
func ParseConnectionString(cs string) (*ConnectionDescriptor, error) {
	if !strings.HasPrefix(cs, schemePrefix) {
		return nil, &MalformedConnectionStringError{Detail: fmt.Sprintf("URL scheme must be %q", Scheme)}
	}

	rest := cs[len(schemePrefix):]
	netloc := rest
	trailer := ""
	if i := strings.Index(rest, "/"); i >= 0 {
		netloc, trailer = rest[:i], rest[i+1:]
	}
	if strings.Contains(netloc, ";") {
		return nil, &MalformedConnectionStringError{Detail: "parameters must follow a '/' separator"}
	}

	d := &ConnectionDescriptor{params: make(map[string]string)}
	if trailer != "" {
		if !strings.HasPrefix(trailer, ";") {
			return nil, &MalformedConnectionStringError{Detail: fmt.Sprintf("path component must be empty, got %q", "/"+trailer)}
		}
		for _, part := range strings.Split(strings.TrimPrefix(trailer, ";"), ";") {
			kv := strings.Split(part, "=")
			if len(kv) != 2 || kv[0] == "" {
				return nil, &MalformedConnectionStringError{Detail: fmt.Sprintf("parameter %q is not a valid key-value pair", part)}
			}
			value, err := url.PathUnescape(kv[1])
			if err != nil {
				return nil, &MalformedConnectionStringError{Detail: fmt.Sprintf("parameter %q has an invalid percent encoding", part)}
			}
			d.params[kv[0]] = value
		}
	}

	hostport := strings.Split(netloc, ":")
	switch len(hostport) {
	case 1:
		d.host = hostport[0]
		d.port = defaultPort()
	case 2:
		port, err := strconv.Atoi(hostport[1])
		if err != nil || port <= 0 {
			return nil, &MalformedConnectionStringError{Detail: fmt.Sprintf("port %q is not a valid port number", hostport[1])}
		}
		d.host = hostport[0]
		d.port = port
	default:
		return nil, &MalformedConnectionStringError{Detail: fmt.Sprintf("target %q does not match '<host>:<port>'", netloc)}
	}
	if d.host == "" {
		return nil, &MalformedConnectionStringError{Detail: "host must not be empty"}
	}
	return d, nil
}

func defaultPort() int {
	if os.Getenv(envTesting) == "" {
		return DefaultPort
	}
	if port, err := strconv.Atoi(os.Getenv(envTestPort)); err == nil && port > 0 {
		return port
	}
	return DefaultPort
}

// Host returns the engine host.
func (d *ConnectionDescriptor) Host() string { return d.host }

// Port returns the engine port.
func (d *ConnectionDescriptor) Port() int { return d.port }

// Endpoint returns "host:port".
func (d *ConnectionDescriptor) Endpoint() string {
	return fmt.Sprintf("%s:%d", d.host, d.port)
}

// Secure reports whether the channel must use TLS: either use_ssl=true was
// requested, or a bearer token is present (a token implies TLS).
func (d *ConnectionDescriptor) Secure() bool {
	if _, ok := d.params[paramToken]; ok {
		return true
	}
	return strings.EqualFold(d.params[paramUseSSL], "true")
}

// Token returns the bearer token parameter, if present.
func (d *ConnectionDescriptor) Token() (string, bool) {
	token, ok := d.params[paramToken]
	return token, ok
}

// UserID returns the user_id parameter, if present.
func (d *ConnectionDescriptor) UserID() (string, bool) {
	id, ok := d.params[paramUserID]
	return id, ok
}

// Param returns the named parameter or an UnknownParameterError.
func (d *ConnectionDescriptor) Param(key string) (string, error) {
	value, ok := d.params[key]
	if !ok {
		return "", &UnknownParameterError{Key: key}
	}
	return value, nil
}

// Metadata returns the non-reserved parameters as gRPC call metadata.
func (d *ConnectionDescriptor) Metadata() metadata.MD {
	md := metadata.MD{}
	for key, value := range d.params {
		switch key {
		case paramToken, paramUseSSL, paramUserID, paramCACert:
		default:
			md.Append(key, value)
		}
	}
	return md
}

// BuildChannel turns the descriptor into a ready Flight client. The channel
// is lazy: no network I/O happens until the first call. Failures here are
// limited to unusable TLS material or channel options; connectivity errors
// surface on first use and go through the retry layer instead.
func (d *ConnectionDescriptor) BuildChannel(extraOpts ...grpc.DialOption) (flight.Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxGRPCMessageSize),
			grpc.MaxCallSendMsgSize(MaxGRPCMessageSize),
		),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}

	if d.Secure() {
		tlsCfg := &tls.Config{ServerName: d.host, MinVersion: tls.VersionTLS12}
		if caPath, ok := d.params[paramCACert]; ok {
			pem, err := os.ReadFile(caPath)
			if err != nil {
				return nil, &ChannelConstructionError{Reason: "read root CA bundle", Err: err}
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, &ChannelConstructionError{Reason: fmt.Sprintf("no usable certificates in %s", caPath)}
			}
			tlsCfg.RootCAs = pool
		}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)))
		if token, ok := d.Token(); ok {
			dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(&bearerCreds{token: token}))
		}
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	dialOpts = append(dialOpts, extraOpts...)

	var middleware []flight.ClientMiddleware
	if md := d.Metadata(); md.Len() > 0 {
		middleware = append(middleware, flight.CreateClientMiddleware(&metadataMiddleware{md: md}))
	}

	fc, err := flight.NewClientWithMiddleware(d.Endpoint(), nil, middleware, dialOpts...)
	if err != nil {
		return nil, &ChannelConstructionError{Reason: "create flight client", Err: err}
	}
	return fc, nil
}

// bearerCreds implements grpc.PerRPCCredentials for bearer token auth.
type bearerCreds struct {
	token string
}

func (c *bearerCreds) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		"authorization": "Bearer " + c.token,
	}, nil
}

func (c *bearerCreds) RequireTransportSecurity() bool {
	return false // TLS may terminate at a local proxy
}

// metadataMiddleware injects the descriptor's pass-through parameters into
// every outgoing call.
type metadataMiddleware struct {
	md metadata.MD
}

func (m *metadataMiddleware) StartCall(ctx context.Context) context.Context {
	return metadata.NewOutgoingContext(ctx, metadata.Join(m.md, callMetadata(ctx)))
}

func callMetadata(ctx context.Context) metadata.MD {
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		return md
	}
	return metadata.MD{}
}
