package auth

import (
	"bytes"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/ceremony-coordinator/common"
	"github.com/ruteri/ceremony-coordinator/cryptoutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type joinRequest struct {
	Address string `json:"address"`
}

func newAuthenticator(t *testing.T) (*RequestAuthenticator, *cryptoutils.KeyPair, *cryptoutils.KeyPair) {
	scheme := cryptoutils.Secp256k1Scheme{}
	participant, err := scheme.GenerateKey()
	require.NoError(t, err)
	verifier, err := scheme.GenerateKey()
	require.NoError(t, err)

	log := common.SetupLogger(&common.LoggingOpts{Debug: true})
	return NewRequestAuthenticator(scheme, verifier.PublicKey, log), participant, verifier
}

func signedRequest(t *testing.T, method, path string, key *cryptoutils.KeyPair, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	require.NoError(t, SignRequest(req, cryptoutils.Secp256k1Scheme{}, key, body))
	return req
}

func TestAuthenticate(t *testing.T) {
	a, participant, _ := newAuthenticator(t)
	other, err := cryptoutils.Secp256k1Scheme{}.GenerateKey()
	require.NoError(t, err)
	body := []byte(`{"address":"10.0.0.1"}`)

	t.Run("signed body", func(t *testing.T) {
		req := signedRequest(t, http.MethodPost, "/", participant, body)
		id, err := a.Authenticate(req.Header, body)
		require.NoError(t, err)
		assert.Equal(t, participant.PublicKey, id)
	})

	t.Run("signed without body", func(t *testing.T) {
		req := signedRequest(t, http.MethodGet, "/", participant, nil)
		id, err := a.Authenticate(req.Header, nil)
		require.NoError(t, err)
		assert.Equal(t, participant.PublicKey, id)
	})

	tests := []struct {
		name       string
		mutate     func(h http.Header)
		body       []byte
		wantStatus int
		wantErr    error
	}{
		{
			name:       "missing pubkey",
			mutate:     func(h http.Header) { h.Del(PubkeyHeader) },
			body:       body,
			wantStatus: http.StatusBadRequest,
			wantErr:    ErrMissingRequiredHeader,
		},
		{
			name:       "missing signature",
			mutate:     func(h http.Header) { h.Del(SignatureHeader) },
			body:       body,
			wantStatus: http.StatusBadRequest,
			wantErr:    ErrMissingRequiredHeader,
		},
		{
			name:       "missing content length",
			mutate:     func(h http.Header) { h.Del(ContentLengthHeader) },
			body:       body,
			wantStatus: http.StatusLengthRequired,
			wantErr:    ErrMissingContentLength,
		},
		{
			name:       "wrong content length",
			mutate:     func(h http.Header) { h.Set(ContentLengthHeader, strconv.Itoa(len(body)+1)) },
			body:       body,
			wantStatus: http.StatusBadRequest,
			wantErr:    ErrInvalidHeader,
		},
		{
			name:       "missing digest",
			mutate:     func(h http.Header) { h.Del(DigestHeader) },
			body:       body,
			wantStatus: http.StatusBadRequest,
			wantErr:    ErrMissingRequiredHeader,
		},
		{
			name:       "unknown digest algorithm",
			mutate:     func(h http.Header) { h.Set(DigestHeader, "md5=AAAA") },
			body:       body,
			wantStatus: http.StatusBadRequest,
			wantErr:    cryptoutils.ErrWrongDigestEncoding,
		},
		{
			name:       "mismatching digest",
			mutate:     func(h http.Header) { h.Set(DigestHeader, "sha-256=AAAA") },
			body:       body,
			wantStatus: http.StatusBadRequest,
			wantErr:    cryptoutils.ErrMismatchingChecksum,
		},
		{
			name:       "signature by another key",
			mutate:     func(h http.Header) { h.Set(PubkeyHeader, other.PublicKey) },
			body:       body,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signedRequest(t, http.MethodPost, "/", participant, tt.body)
			tt.mutate(req.Header)

			_, err := a.Authenticate(req.Header, tt.body)
			require.Error(t, err)

			var reqErr *RequestError
			require.True(t, errors.As(err, &reqErr))
			assert.Equal(t, tt.wantStatus, reqErr.StatusCode)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestOneKeyHasOneIdentity(t *testing.T) {
	a, participant, _ := newAuthenticator(t)
	body := []byte(`{"address":"10.0.0.1"}`)

	privBytes, err := hex.DecodeString(participant.PrivateKey)
	require.NoError(t, err)
	priv, err := crypto.ToECDSA(privBytes)
	require.NoError(t, err)

	encodings := map[string]string{
		"uppercase":    strings.ToUpper(participant.PublicKey),
		"0x prefix":    "0x" + participant.PublicKey,
		"uncompressed": hex.EncodeToString(crypto.FromECDSAPub(&priv.PublicKey)),
	}
	for name, pubkey := range encodings {
		t.Run(name, func(t *testing.T) {
			// Signed correctly by the participant's key, announced under another encoding.
			variant := &cryptoutils.KeyPair{Scheme: participant.Scheme, PublicKey: pubkey, PrivateKey: participant.PrivateKey}
			req := signedRequest(t, http.MethodPost, "/", variant, body)

			_, err := a.Authenticate(req.Header, body)
			require.ErrorIs(t, err, cryptoutils.ErrInvalidPublicKey)
			var reqErr *RequestError
			require.True(t, errors.As(err, &reqErr))
			assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
		})
	}

	req := signedRequest(t, http.MethodPost, "/", participant, body)
	id, err := a.Authenticate(req.Header, body)
	require.NoError(t, err)
	assert.Equal(t, participant.PublicKey, id)
}

func TestMiddleware(t *testing.T) {
	a, participant, verifier := newAuthenticator(t)

	var decoded joinRequest
	var seen string
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ParticipantFrom(r.Context())
		if err := DecodeBody(r, &decoded); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("identity reaches handler", func(t *testing.T) {
		req := signedRequest(t, http.MethodPost, "/", participant, []byte(`{"address":"10.0.0.1"}`))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, participant.PublicKey, seen)
		assert.Equal(t, "10.0.0.1", decoded.Address)
	})

	t.Run("digest checked before decoding", func(t *testing.T) {
		seen = ""
		req := signedRequest(t, http.MethodPost, "/", participant, []byte(`not json`))
		req.Header.Set(DigestHeader, "sha-256=AAAA")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), cryptoutils.ErrMismatchingChecksum.Error())
		assert.Empty(t, seen)
	})

	t.Run("malformed json", func(t *testing.T) {
		req := signedRequest(t, http.MethodPost, "/", participant, []byte(`not json`))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})

	t.Run("verifier only", func(t *testing.T) {
		guarded := a.Middleware(a.VerifierOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))

		rr := httptest.NewRecorder()
		guarded.ServeHTTP(rr, signedRequest(t, http.MethodGet, "/update", participant, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		rr = httptest.NewRecorder()
		guarded.ServeHTTP(rr, signedRequest(t, http.MethodGet, "/update", verifier, nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}
