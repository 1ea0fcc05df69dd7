package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	challengememory "collie-procedures-backend/pkg/adapters/challenge/memory"
	filememory "collie-procedures-backend/pkg/adapters/filestorage/memory"
	"collie-procedures-backend/pkg/adapters/httpapi"
	"collie-procedures-backend/pkg/adapters/notify"
	"collie-procedures-backend/pkg/adapters/storage/memory"
	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"
	"collie-procedures-backend/pkg/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) (http.Handler, *httpapi.TokenValidator) {
	t.Helper()
	store := memory.NewStore()
	store.PutWorker(domain.Worker{ID: "w-recipient", Name: "Jorge Perez", Email: "jperez@collie.test"})
	require.NoError(t, store.Documents().Save(context.Background(), &domain.Document{
		ID: "doc-1", FileName: "contrato.pdf", S3Key: "documents/doc-1/contrato.pdf", ContentType: domain.ContentTypePDF,
	}))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := notify.NewLogSender(logger, false)
	opts := []services.Option{services.WithLogger(logger)}

	validator, err := httpapi.NewTokenValidator([]byte("test-secret"), "")
	require.NoError(t, err)
	return httpapi.NewRouter(httpapi.Services{
		Procedures: services.NewProcedureService(store.Procedures(), store.Documents(), opts...),
		Signatures: services.NewSignatureService(store.Procedures(), store.Workers(),
			challengememory.NewChallengeStore(),
			challengememory.NewAttemptLimiter(domain.DefaultLockoutPolicy(), nil),
			sender, services.DefaultSignatureConfig(), opts...),
		Observations: services.NewObservationService(store.Procedures(), store.Observations(), store.Documents(), sender, opts...),
		Documents:    services.NewDocumentService(filememory.NewFileStorage("https://files.test"), store.Documents(), store.Procedures(), opts...),
	}, httpapi.Options{Validator: validator, Logger: logger}), validator
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpapi.ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p httpapi.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func issue(t *testing.T, v *httpapi.TokenValidator, workerID string) string {
	t.Helper()
	token, err := v.Issue(workerID, time.Hour)
	require.NoError(t, err)
	return token
}

func TestRouter_HealthIsPublic(t *testing.T) {
	h, _ := newRouter(t)
	rec := do(t, h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get(httpapi.RequestIDHeader), "req_"))
}

func TestRouter_RequiresBearerToken(t *testing.T) {
	h, _ := newRouter(t)

	rec := do(t, h, http.MethodGet, "/procedures/p-1", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, "unauthenticated", p.Code)
	assert.Equal(t, "/procedures/p-1", p.Instance)

	rec = do(t, h, http.MethodGet, "/procedures/p-1", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := httpapi.NewTokenValidator([]byte("other-secret"), "")
	require.NoError(t, err)
	rec = do(t, h, http.MethodGet, "/procedures/p-1", issue(t, other, "w-recipient"), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_DispatchAndProblemDetails(t *testing.T) {
	h, v := newRouter(t)
	senderToken := issue(t, v, "w-sender")
	recipientToken := issue(t, v, "w-recipient")

	rec := do(t, h, http.MethodPost, "/procedures", senderToken,
		`{"subject":"Contrato","documentId":"doc-1","recipientId":"w-recipient","requiresSignature":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p domain.Procedure
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, domain.StateSent, p.State)

	rec = do(t, h, http.MethodPost, "/procedures/"+p.ID+"/read", recipientToken, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	problem := decodeProblem(t, rec)
	assert.Equal(t, string(domain.KindInvalidState), problem.Code)
	assert.Equal(t, httpapi.ProblemTypePrefix+"invalid_state", problem.Type)
	assert.Equal(t, "SENT", problem.Metadata["state"])
	assert.NotEmpty(t, problem.TraceID)

	rec = do(t, h, http.MethodPost, "/procedures/"+p.ID+"/signature/verify", recipientToken, `{"code":"123456","acceptsTerms":true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/procedures/"+p.ID+"/observations/unresolved", recipientToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unresolved":false}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/procedures/"+p.ID+"/observations/unresolved", issue(t, v, "w-stranger"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_RejectsUnknownFields(t *testing.T) {
	h, v := newRouter(t)
	rec := do(t, h, http.MethodPost, "/procedures", issue(t, v, "w-sender"), `{"subject":"x","priority":"high"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(domain.KindValidation), decodeProblem(t, rec).Code)
}

func TestRouter_RegisterUpload(t *testing.T) {
	h, v := newRouter(t)
	rec := do(t, h, http.MethodPost, "/documents", issue(t, v, "w-sender"), `{"fileName":"acta.pdf"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ticket ports.UploadTicket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ticket))
	assert.Equal(t, "acta.pdf", ticket.Document.FileName)
	assert.Contains(t, ticket.UploadURL, "upload=1")
}

func TestStatusForKind(t *testing.T) {
	tests := map[domain.Kind]int{
		domain.KindNotFound:         http.StatusNotFound,
		domain.KindForbidden:        http.StatusForbidden,
		domain.KindValidation:       http.StatusBadRequest,
		domain.KindObsoleteVersion:  http.StatusConflict,
		domain.KindChallengeMissing: http.StatusConflict,
		domain.KindInvalidCode:      http.StatusUnprocessableEntity,
		domain.KindExpiredCode:      http.StatusGone,
		domain.KindLockedOut:        http.StatusLocked,
		domain.KindRateLimited:      http.StatusTooManyRequests,
		domain.KindUnavailable:      http.StatusServiceUnavailable,
		domain.Kind("mystery"):      http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, httpapi.StatusForKind(kind), string(kind))
	}
}

func TestTokenValidator(t *testing.T) {
	_, err := httpapi.NewTokenValidator(nil, "")
	assert.Error(t, err)

	v, err := httpapi.NewTokenValidator([]byte("s3cret"), "collie")
	require.NoError(t, err)
	token, err := v.Issue("w-1", time.Minute)
	require.NoError(t, err)
	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "w-1", claims.Subject)

	expired, err := v.Issue("w-1", -time.Minute)
	require.NoError(t, err)
	_, err = v.Validate(expired)
	assert.Error(t, err)

	otherIssuer, err := httpapi.NewTokenValidator([]byte("s3cret"), "someone-else")
	require.NoError(t, err)
	_, err = otherIssuer.Validate(token)
	assert.Error(t, err)
}
