package compute

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/grpc/metadata"
)

// Agent request headers. The token identifies the caller; the signature
// binds method, path, timestamp and body digest to it.
const (
	HeaderAgentAuth      = "X-Agent-Token"
	HeaderAgentTimestamp = "X-Agent-Timestamp"
	HeaderAgentSignature = "X-Agent-Signature"
	HeaderRequestID      = "X-Request-ID"
)

// gRPC metadata keys mirroring the HTTP headers.
const (
	mdAgentAuth      = "x-agent-token"
	mdAgentTimestamp = "x-agent-timestamp"
	mdAgentSignature = "x-agent-signature"
	mdRequestID      = "x-request-id"
)

// DefaultSignatureSkew is the accepted clock difference between caller and agent.
const DefaultSignatureSkew = 5 * time.Minute

// ErrUnauthorized is returned by the verifiers for any authentication failure.
var ErrUnauthorized = errors.New("unauthorized")

// AttachSignedAgentHeaders adds agent authentication and integrity headers.
func AttachSignedAgentHeaders(req *http.Request, token string, body []byte, now time.Time) {
	ts := strconv.FormatInt(now.UTC().Unix(), 10)
	req.Header.Set(HeaderAgentAuth, token)
	req.Header.Set(HeaderAgentTimestamp, ts)
	req.Header.Set(HeaderAgentSignature, signRequest(req.Method, req.URL.Path, ts, body, token))
}

// VerifySignedAgentHeaders checks the token, timestamp freshness and
// signature of an HTTP request.
func VerifySignedAgentHeaders(req *http.Request, token string, body []byte, now time.Time, maxSkew time.Duration) error {
	return verify(signedParts{
		token:     req.Header.Get(HeaderAgentAuth),
		timestamp: req.Header.Get(HeaderAgentTimestamp),
		signature: req.Header.Get(HeaderAgentSignature),
		method:    req.Method,
		path:      req.URL.Path,
	}, token, body, now, maxSkew)
}

// SignOutgoingContext attaches signed agent metadata for a gRPC call to
// fullMethod whose signed payload is body.
func SignOutgoingContext(ctx context.Context, token, fullMethod, requestID string, body []byte, now time.Time) context.Context {
	ts := strconv.FormatInt(now.UTC().Unix(), 10)
	pairs := []string{
		mdAgentAuth, token,
		mdAgentTimestamp, ts,
		mdAgentSignature, signRequest(http.MethodPost, fullMethod, ts, body, token),
	}
	if requestID != "" {
		pairs = append(pairs, mdRequestID, requestID)
	}
	return metadata.NewOutgoingContext(ctx, metadata.Pairs(pairs...))
}

// VerifyIncomingContext checks signed agent metadata on a gRPC call.
func VerifyIncomingContext(ctx context.Context, token, fullMethod string, body []byte, now time.Time, maxSkew time.Duration) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return fmt.Errorf("%w: missing metadata", ErrUnauthorized)
	}
	return verify(signedParts{
		token:     first(md.Get(mdAgentAuth)),
		timestamp: first(md.Get(mdAgentTimestamp)),
		signature: first(md.Get(mdAgentSignature)),
		method:    http.MethodPost,
		path:      fullMethod,
	}, token, body, now, maxSkew)
}

// RequestIDFromIncoming returns the caller's request id, if any.
func RequestIDFromIncoming(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	return first(md.Get(mdRequestID))
}

type signedParts struct {
	token, timestamp, signature string
	method, path                string
}

func verify(p signedParts, token string, body []byte, now time.Time, maxSkew time.Duration) error {
	if token == "" || !hmac.Equal([]byte(p.token), []byte(token)) {
		return fmt.Errorf("%w: invalid agent token", ErrUnauthorized)
	}
	if p.timestamp == "" {
		return fmt.Errorf("%w: missing %s", ErrUnauthorized, HeaderAgentTimestamp)
	}
	ts, err := strconv.ParseInt(p.timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid %s: %v", ErrUnauthorized, HeaderAgentTimestamp, err)
	}
	skew := now.UTC().Sub(time.Unix(ts, 0).UTC())
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return fmt.Errorf("%w: request timestamp outside allowed skew", ErrUnauthorized)
	}
	if p.signature == "" {
		return fmt.Errorf("%w: missing %s", ErrUnauthorized, HeaderAgentSignature)
	}
	expected := signRequest(p.method, p.path, p.timestamp, body, token)
	if !hmac.Equal([]byte(p.signature), []byte(expected)) {
		return fmt.Errorf("%w: invalid request signature", ErrUnauthorized)
	}
	return nil
}

func signRequest(method, path, ts string, body []byte, token string) string {
	digest := sha256.Sum256(body)
	payload := method + "\n" + path + "\n" + ts + "\n" + hex.EncodeToString(digest[:])

	mac := hmac.New(sha256.New, []byte(token))
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}
