package handler_test

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"humanitylink/internal/audit"
	"humanitylink/internal/identity"
	"humanitylink/internal/identity/directory"
	"humanitylink/internal/platform/crypto"
	"humanitylink/internal/profile/handler"
	"humanitylink/internal/profile/service"
	"humanitylink/internal/profile/store"
	dErrors "humanitylink/pkg/domain-errors"
	"humanitylink/pkg/testutil"
)

// newStack wires the real resolver, service and a directory-backed store over
// an in-memory directory.
func newStack(t *testing.T) (http.Handler, *directory.InMemory, *audit.MemorySink) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := directory.NewInMemory()
	sink := audit.NewMemorySink()
	auditor := audit.NewPublisher(sink, logger)

	sealer, err := crypto.NewSealer([]byte(strings.Repeat("s", 32)))
	require.NoError(t, err)

	resolver := identity.NewResolver(dir, identity.WithAuditor(auditor), identity.WithLogger(logger))
	profiles := service.New(store.NewDirectory(dir, sealer), service.WithAuditor(auditor), service.WithLogger(logger))

	r := chi.NewRouter()
	handler.New(resolver, profiles, logger).Register(r)
	return r, dir, sink
}

func TestProfileLifecycleForNewWallet(t *testing.T) {
	router, dir, sink := newStack(t)
	const w1 = "0x52908400098527886E0F7030069857D2E4169EE7"

	testutil.Given(t, "a wallet the directory has never seen", func(t *testing.T) {
		testutil.When(t, "it stores a profile", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/profile", map[string]any{
				"walletAddress": w1,
				"piiData": map[string]any{
					"fullName":   "Ada Lovelace",
					"phone":      "+44 20 7946 0000",
					"address":    "12 St James's Square, London",
					"nationalId": "AB123456C",
				},
			}))

			testutil.Then(t, "an identity and version 1 are created", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusCreated)
				require.Equal(t, 1, dir.Creates())
				require.Len(t, sink.ByAction(audit.ActionIdentityCreated), 1)
				require.Len(t, sink.ByAction(audit.ActionProfileStored), 1)
			})
		})

		testutil.When(t, "it reads the profile", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/profile?wallet="+w1))

			testutil.Then(t, "the stored profile comes back", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				resp := testutil.UnmarshalResponse[handler.GetResponse](t, rr)
				require.NotNil(t, resp.Data)
				require.Equal(t, "Ada Lovelace", resp.Data.FullName)
				require.Equal(t, "+44 20 7946 0000", resp.Data.Phone)
				require.Equal(t, 1, resp.Data.Version)
			})
		})

		testutil.When(t, "it updates the phone", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPut, "/profile", map[string]any{
				"walletAddress": strings.ToLower(w1),
				"piiData": map[string]any{
					"fullName":   "Ada Lovelace",
					"phone":      "+44 20 7946 9999",
					"address":    "12 St James's Square, London",
					"nationalId": "AB123456C",
				},
			}))
			testutil.AssertStatusOK(t, rr)

			testutil.Then(t, "version 2 keeps the other fields", func(t *testing.T) {
				rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/profile?wallet="+w1))
				resp := testutil.UnmarshalResponse[handler.GetResponse](t, rr)
				require.NotNil(t, resp.Data)
				require.Equal(t, 2, resp.Data.Version)
				require.Equal(t, "+44 20 7946 9999", resp.Data.Phone)
				require.Equal(t, "Ada Lovelace", resp.Data.FullName)
				require.Equal(t, "AB123456C", resp.Data.NationalID)
				require.Equal(t, 1, dir.Creates(), "no second identity for the same wallet")
			})
		})

		testutil.When(t, "it deletes the profile", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodDelete, "/profile?wallet="+w1))
			testutil.AssertStatusOK(t, rr)

			testutil.Then(t, "a later read is not found", func(t *testing.T) {
				rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/profile?wallet="+w1))
				testutil.AssertStatusAndError(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
			})
		})
	})
}

func TestInvalidProfileCreatesNoIdentity(t *testing.T) {
	router, dir, sink := newStack(t)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/profile", map[string]any{
		"walletAddress": "0x0000000000000000000000000000000000000abc",
		"piiData": map[string]any{
			"fullName": "A",
			"phone":    "+44 20 7946 0000",
			"address":  "London",
		},
	}))

	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, string(dErrors.CodeValidation))
	require.Equal(t, 0, dir.Creates())
	require.Empty(t, sink.Events())
}

func TestReadForUnknownWalletCreatesNoIdentity(t *testing.T) {
	router, dir, _ := newStack(t)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/profile?wallet=0x0000000000000000000000000000000000000def"))

	testutil.AssertStatus(t, rr, http.StatusNotFound)
	require.Equal(t, 0, dir.Creates())
}
