package utils

import (
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSignature(t *testing.T) {
	params := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"Caller":  {"+12349013030"},
		"Digits":  {"1234"},
		"From":    {"+12349013030"},
		"To":      {"+18005551212"},
	}
	callbackURL := "https://mycompany.com/myapp.php?foo=1&bar=2"

	sig := ComputeSignature("12345", callbackURL, params)
	assert.Equal(t, "0/KCTR6DLpKmkAf8muzZqo1nDgQ=", sig)

	assert.True(t, ValidSignature("12345", callbackURL, params, sig))
	assert.False(t, ValidSignature("other", callbackURL, params, sig))
	assert.False(t, ValidSignature("12345", "https://mycompany.com/other", params, sig))
	assert.False(t, ValidSignature("12345", callbackURL, params, ""))

	params.Set("Digits", "9")
	assert.False(t, ValidSignature("12345", callbackURL, params, sig))
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("token", "token"))
	assert.False(t, ConstantTimeEqual("token", "tokem"))
	assert.False(t, ConstantTimeEqual("token", "token2"))
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestDedupeKey(t *testing.T) {
	assert.Equal(t, "notify_immediate:acme:e1", DedupeKey("notify_immediate", "acme", "e1"))
	assert.NotEqual(t, DedupeKey("notify_immediate", "acme", "e1"), DedupeKey("notify_immediate", "globex", "e1"))
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "+15550100", NormalizeAddress("whatsapp:+1 555 0100"))
	assert.Equal(t, "+15550100", NormalizeAddress(" +1 (555) 01-00 "))
	assert.Equal(t, "+15550100", NormalizeAddress("+15550100"))
}

func TestAppErrorCode(t *testing.T) {
	err := NewAppError(ErrCodeNotFound, "Alert not found", "id=a1")
	assert.Equal(t, "NOT_FOUND: Alert not found (id=a1)", err.Error())
	assert.NotEmpty(t, err.File)

	wrapped := fmt.Errorf("ack: %w", err)
	assert.Equal(t, ErrCodeNotFound, ErrorCode(wrapped))
	assert.Equal(t, "", ErrorCode(errors.New("plain")))
}
