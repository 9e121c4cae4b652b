package signature_test

import (
	"fmt"
	"math/rand"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/smartpay/internal/signature"
)

const secret = "response-key-for-tests"

func randomParams(r *rand.Rand) map[string]string {
	alphabet := []rune("abcXYZ019 +/=&%!*()'~-_.:@ä")
	params := make(map[string]string)
	n := 1 + r.Intn(8)
	for i := 0; i < n; i++ {
		value := make([]rune, r.Intn(16))
		for j := range value {
			value[j] = alphabet[r.Intn(len(alphabet))]
		}
		params[fmt.Sprintf("key_%d_%d", i, r.Intn(100))] = string(value)
	}
	return params
}

func TestCanonical_SortsAndSkipsSignatureFields(t *testing.T) {
	params := map[string]string{
		"status_id":           "21",
		"order_id":            "ORD1",
		"amount":              "1000.00",
		"signature":           "abc",
		"signature_algorithm": "HMAC-SHA256",
	}

	assert.Equal(t, "amount=1000.00&order_id=ORD1&status_id=21", signature.Canonical(params))
}

func TestCompute_IgnoresSignatureFields(t *testing.T) {
	base := map[string]string{"order_id": "ORD1", "status": "CHARGED"}
	withFields := map[string]string{
		"order_id":            "ORD1",
		"status":              "CHARGED",
		"signature":           "something",
		"signature_algorithm": "HMAC-SHA256",
	}

	assert.Equal(t, signature.Compute(base, secret), signature.Compute(withFields, secret))
}

func TestCompute_IsEscapedDigest(t *testing.T) {
	sig := signature.Compute(map[string]string{"order_id": "ORD1"}, secret)

	decoded, err := url.PathUnescape(sig)
	require.NoError(t, err)
	assert.Len(t, decoded, 44, "base64 of a sha256 digest")
	assert.NotContains(t, sig, "+")
	assert.NotContains(t, sig, "/")
}

func TestCompute_DependsOnSecretAndValues(t *testing.T) {
	params := map[string]string{"order_id": "ORD1", "amount": "10"}
	tampered := map[string]string{"order_id": "ORD1", "amount": "11"}

	assert.NotEqual(t, signature.Compute(params, secret), signature.Compute(params, "other"))
	assert.NotEqual(t, signature.Compute(params, secret), signature.Compute(tampered, secret))
}

func TestVerify_RoundTripRawAndDecoded(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		params := randomParams(r)
		sig := signature.Compute(params, secret)

		raw := copyWith(params, signature.FieldSignature, sig)
		require.NoError(t, signature.Verify(raw, secret), "raw signature for %v", params)

		decoded, err := url.PathUnescape(sig)
		require.NoError(t, err)
		single := copyWith(params, signature.FieldSignature, decoded)
		require.NoError(t, signature.Verify(single, secret), "decoded signature for %v", params)
	}
}

func TestVerify_AcceptsDoubleEncodedSignature(t *testing.T) {
	params := map[string]string{"order_id": "ORD1", "status_id": "21"}
	sig := signature.Compute(params, secret)

	params[signature.FieldSignature] = url.QueryEscape(sig)
	assert.True(t, signature.Valid(params, secret))
}

func TestVerify_MissingSignature(t *testing.T) {
	params := map[string]string{"order_id": "ORD1"}
	assert.ErrorIs(t, signature.Verify(params, secret), signature.ErrMissingSignature)

	params[signature.FieldSignature] = ""
	assert.ErrorIs(t, signature.Verify(params, secret), signature.ErrMissingSignature)
}

func TestVerify_TamperedField(t *testing.T) {
	params := signature.Sign(map[string]string{"order_id": "ORD1", "amount": "1000"}, secret)
	require.True(t, signature.Valid(params, secret))

	params["amount"] = "1"
	assert.ErrorIs(t, signature.Verify(params, secret), signature.ErrSignatureMismatch)
}

func TestVerify_WrongSecret(t *testing.T) {
	params := signature.Sign(map[string]string{"order_id": "ORD1"}, secret)
	assert.False(t, signature.Valid(params, "not-the-secret"))
}

func TestSign_DoesNotMutateInput(t *testing.T) {
	params := map[string]string{"order_id": "ORD1"}
	signed := signature.Sign(params, secret)

	assert.Len(t, params, 1)
	assert.Equal(t, "HMAC-SHA256", signed[signature.FieldAlgorithm])
	assert.True(t, signature.Valid(signed, secret))
}

func copyWith(params map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out[key] = value
	return out
}
