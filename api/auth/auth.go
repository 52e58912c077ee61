package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ruteri/ceremony-coordinator/cryptoutils"
)

// Headers carried by every authenticated request.
const (
	PubkeyHeader        = "ATS-Pubkey"
	SignatureHeader     = "ATS-Signature"
	DigestHeader        = "Digest"
	ContentLengthHeader = "Content-Length"
)

// maxBodySize bounds request bodies. Uploads carry a whole chunk transcript.
const maxBodySize = 256 << 20

var (
	ErrMissingRequiredHeader   = errors.New("missing required header")
	ErrInvalidHeader           = errors.New("invalid header")
	ErrMissingContentLength    = errors.New("content length required")
	ErrUnauthorizedParticipant = errors.New("participant is not authorized for this endpoint")
	ErrBodyTooLarge            = errors.New("request body too large")
)

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func badRequest(err error) *RequestError {
	return &RequestError{StatusCode: http.StatusBadRequest, Err: err}
}

// SignedMessage is the byte sequence a participant signs for a request:
// pubkey, content length and content digest when a body is present, the
// pubkey alone otherwise.
func SignedMessage(pubkey string, contentLength int, digest string) []byte {
	if contentLength == 0 {
		return []byte(pubkey)
	}
	return []byte(fmt.Sprintf("%s%d%s", pubkey, contentLength, digest))
}

// RequestAuthenticator derives the caller identity from request headers.
type RequestAuthenticator struct {
	scheme   cryptoutils.SignatureScheme
	verifier string
	log      *slog.Logger
}

// NewRequestAuthenticator creates an authenticator accepting signatures of
// scheme. verifier is the only identity allowed through VerifierOnly.
func NewRequestAuthenticator(scheme cryptoutils.SignatureScheme, verifier string, log *slog.Logger) *RequestAuthenticator {
	return &RequestAuthenticator{scheme: scheme, verifier: verifier, log: log}
}

// Authenticate checks body integrity and the request signature and returns
// the caller's public key. The digest is checked before anything looks at
// the body. It never touches ceremony state.
func (a *RequestAuthenticator) Authenticate(header http.Header, body []byte) (string, error) {
	pubkey := header.Get(PubkeyHeader)
	if pubkey == "" {
		return "", badRequest(fmt.Errorf("%w: %s", ErrMissingRequiredHeader, PubkeyHeader))
	}
	signature := header.Get(SignatureHeader)
	if signature == "" {
		return "", badRequest(fmt.Errorf("%w: %s", ErrMissingRequiredHeader, SignatureHeader))
	}

	var digest string
	if len(body) > 0 {
		rawLength := header.Get(ContentLengthHeader)
		if rawLength == "" {
			return "", &RequestError{StatusCode: http.StatusLengthRequired, Err: ErrMissingContentLength}
		}
		contentLength, err := strconv.Atoi(rawLength)
		if err != nil || contentLength != len(body) {
			return "", badRequest(fmt.Errorf("%w: %s", ErrInvalidHeader, ContentLengthHeader))
		}

		digest = header.Get(DigestHeader)
		if digest == "" {
			return "", badRequest(fmt.Errorf("%w: %s", ErrMissingRequiredHeader, DigestHeader))
		}
		if err := cryptoutils.CheckContentDigest(digest, body); err != nil {
			return "", badRequest(err)
		}
	}

	if err := a.scheme.Verify(pubkey, SignedMessage(pubkey, len(body), digest), signature); err != nil {
		return "", badRequest(err)
	}
	return pubkey, nil
}

// Middleware authenticates every request and stores the caller in the
// request context. The body is buffered so handlers can decode it again.
func (a *RequestAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
		if err != nil {
			WriteError(w, badRequest(fmt.Errorf("failed to read request body: %w", err)))
			return
		}
		if len(body) > maxBodySize {
			WriteError(w, &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: ErrBodyTooLarge})
			return
		}

		participant, err := a.Authenticate(r.Header, body)
		if err != nil {
			a.log.Debug("Rejected request", "err", err, "path", r.URL.Path)
			WriteError(w, err)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(WithParticipant(r.Context(), participant)))
	})
}

// VerifierOnly rejects authenticated callers other than the coordinator verifier.
func (a *RequestAuthenticator) VerifierOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		participant, ok := ParticipantFrom(r.Context())
		if !ok || participant != a.verifier {
			WriteError(w, &RequestError{StatusCode: http.StatusUnauthorized, Err: ErrUnauthorizedParticipant})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type participantKey struct{}

func WithParticipant(ctx context.Context, participant string) context.Context {
	return context.WithValue(ctx, participantKey{}, participant)
}

// ParticipantFrom returns the authenticated caller stored by Middleware.
func ParticipantFrom(ctx context.Context) (string, bool) {
	participant, ok := ctx.Value(participantKey{}).(string)
	return participant, ok
}

// DecodeBody decodes a JSON request body. Decoding failures are 422.
func DecodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &RequestError{StatusCode: http.StatusUnprocessableEntity, Err: fmt.Errorf("invalid request body: %w", err)}
	}
	return nil
}

// WriteError writes err with the status of a RequestError, or 500.
func WriteError(w http.ResponseWriter, err error) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		http.Error(w, reqErr.Error(), reqErr.StatusCode)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// SignRequest sets the authentication headers of an outgoing request.
func SignRequest(req *http.Request, scheme cryptoutils.SignatureScheme, key *cryptoutils.KeyPair, body []byte) error {
	var digest string
	if len(body) > 0 {
		digest = cryptoutils.ContentDigest(body)
		req.Header.Set(DigestHeader, digest)
		req.Header.Set(ContentLengthHeader, strconv.Itoa(len(body)))
		req.ContentLength = int64(len(body))
	}

	signature, err := scheme.Sign(key, SignedMessage(key.PublicKey, len(body), digest))
	if err != nil {
		return fmt.Errorf("could not sign request: %w", err)
	}
	req.Header.Set(PubkeyHeader, key.PublicKey)
	req.Header.Set(SignatureHeader, signature)
	return nil
}
