// Copyright 2025 Certen Protocol

package verrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIs_MatchesWrappedCode(t *testing.T) {
	err := Wrap(KeyNotFound, "missing", errors.New("boom"))
	require.True(t, Is(err, KeyNotFound))
	require.False(t, Is(err, TxNotFound))
}

func TestIs_FalseForPlainError(t *testing.T) {
	require.False(t, Is(errors.New("plain"), KeyNotFound))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(Transport, "rpc failed", cause)
	require.ErrorIs(t, err, cause)
}

func TestVerification_CarriesReason(t *testing.T) {
	err := Verification("inclusion")
	require.Equal(t, VerificationFailed, err.Code)
	require.Equal(t, "inclusion", err.Reason)
	require.Contains(t, err.Error(), "inclusion")
}

func TestMapServerError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		code Code
	}{
		{"key not found", errors.New("key not found"), KeyNotFound},
		{"tx not found", errors.New("transaction not found"), TxNotFound},
		{"case insensitive", errors.New("KEY NOT FOUND"), KeyNotFound},
		{"unmapped falls to transport", errors.New("internal server error"), Transport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := MapServerError(tc.in)
			require.True(t, Is(err, tc.code))
		})
	}
}

func TestMapServerError_NilPassesThrough(t *testing.T) {
	require.NoError(t, MapServerError(nil))
}
